// Package idgen generates identifiers for sessions, transactions and events.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Prefixes used across the payment core.
const (
	PrefixSession     = "sess_"
	PrefixTransaction = "txn_"
	PrefixRefund      = "rfd_"
	PrefixEvent       = "evt_"
)

// New returns a random version 4 UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by the hex digits of a random UUID,
// e.g. "txn_3f2a9c0e5b1d4e7f8a6b2c1d0e9f8a7b".
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Valid reports whether id carries prefix and a well-formed UUID body.
func Valid(prefix, id string) bool {
	body, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(body)
	return err == nil
}
