// Package id generates the opaque job tokens used as correlation keys.
package id

import (
	"crypto/rand"
	"encoding/hex"
)

func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "quest-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
