// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic report bytes and content-addressed IDs.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON representation of v.
//
// The value is first marshaled with encoding/json so struct tags apply, then
// transformed to canonical form: lexicographically sorted keys, no HTML
// escaping, ES6 number formatting. NaN and Inf are rejected by the first
// step.
func Marshal(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Prefix8 returns the first 8 hex characters of the SHA-256 digest of data.
// Schema identity checks compare this prefix, not the full digest.
func Prefix8(data []byte) string {
	return HashBytes(data)[:8]
}
