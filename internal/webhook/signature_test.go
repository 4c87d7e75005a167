package webhook

import (
	"fmt"
	"strconv"
	"testing"
	"time"
)

func TestGenerateSignatureDeterministic(t *testing.T) {
	body := []byte(`{"transactionHash":"0xdead","transactionId":"tx-1","status":"confirmed"}`)

	first, err := GenerateSignature(body, "1700000000", "secret-s")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateSignature(body, "1700000000", "secret-s")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic signature, got %q vs %q", first, second)
	}
}

func TestVerifyRejectsSingleByteChange(t *testing.T) {
	now := time.Now().UTC()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"transactionHash":"0xdead","transactionId":"tx-1","status":"confirmed"}`)

	sig, err := GenerateSignature(body, ts, "secret-s")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	header := fmt.Sprintf("t=%s,s=%s", ts, sig)

	if err := Verify(header, body, "secret-s", now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	tampered := []byte(`{"transactionHash":"0xdeae","transactionId":"tx-1","status":"confirmed"}`)
	if err := Verify(header, tampered, "secret-s", now); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature for tampered body, got %v", err)
	}

	if err := Verify(header, body, "wrong-secret", now); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature for wrong secret, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestampRegardlessOfSignature(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-MaxSignatureAge - time.Second)
	ts := strconv.FormatInt(stale.Unix(), 10)
	body := []byte(`{"status":"confirmed"}`)

	sig, err := GenerateSignature(body, ts, "secret-s")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	header := fmt.Sprintf("t=%s,s=%s", ts, sig)

	if err := Verify(header, body, "secret-s", now); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestParseSignatureHeader(t *testing.T) {
	ts, sig, err := ParseSignatureHeader("t=1700000000,s=abcdef")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts != "1700000000" || sig != "abcdef" {
		t.Fatalf("unexpected parse result ts=%q sig=%q", ts, sig)
	}

	// Element order must not matter.
	ts, sig, err = ParseSignatureHeader("s=abcdef, t=1700000000")
	if err != nil {
		t.Fatalf("parse reordered: %v", err)
	}
	if ts != "1700000000" || sig != "abcdef" {
		t.Fatalf("unexpected reordered parse result ts=%q sig=%q", ts, sig)
	}

	if _, _, err := ParseSignatureHeader("t=1700000000"); err != ErrMalformedHeader {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	if _, _, err := ParseSignatureHeader(""); err != ErrMalformedHeader {
		t.Fatalf("expected ErrMalformedHeader for empty header, got %v", err)
	}
}

func TestGenerateSignatureRejectsNonObjectBody(t *testing.T) {
	if _, err := GenerateSignature([]byte(`[1,2,3]`), "1700000000", "secret"); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}
