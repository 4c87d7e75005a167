// Package webhook implements the signed callback scheme shared by the
// inbound transaction-status endpoint and the outbound job notifier:
// header "t=<unix>,s=<hex>" where the signature is an HMAC-SHA256 over the
// JSON body with a "triggeredAt" field spliced in.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Castquest-Signature"

	// Signed timestamps older than this are rejected outright.
	MaxSignatureAge = 5 * time.Minute
)

var (
	ErrMalformedHeader  = errors.New("malformed signature header")
	ErrStaleTimestamp   = errors.New("signature timestamp too old")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrMalformedPayload = errors.New("payload is not a JSON object")
)

// ParseSignatureHeader splits "t=<unix>,s=<hex>" into its elements.
func ParseSignatureHeader(header string) (timestamp, signature string, err error) {
	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		switch {
		case strings.HasPrefix(element, "t="):
			timestamp = strings.TrimPrefix(element, "t=")
		case strings.HasPrefix(element, "s="):
			signature = strings.TrimPrefix(element, "s=")
		}
	}
	if timestamp == "" || signature == "" {
		return "", "", ErrMalformedHeader
	}
	return timestamp, signature, nil
}

// GenerateSignature computes the hex HMAC over the body with triggeredAt
// injected. The body must be a JSON object; map marshaling keeps the
// digest deterministic for a given body, timestamp and secret.
func GenerateSignature(body []byte, timestamp, secret string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	fields["triggeredAt"] = timestamp

	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal signing payload: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature header against the request body. Staleness is
// checked before the digest so replayed requests fail fast; the digest
// comparison is timing-safe.
func Verify(header string, body []byte, secret string, now time.Time) error {
	timestamp, signature, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrMalformedHeader, timestamp)
	}
	if now.Sub(time.Unix(ts, 0)) > MaxSignatureAge {
		return ErrStaleTimestamp
	}

	expected, err := GenerateSignature(body, timestamp, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
