package contracts

import (
	"encoding/hex"
	"fmt"
	"time"
)

// NonceValueLen is the required hex length of a nonce value (32 bytes).
const NonceValueLen = 64

// Nonce is one version of the redaction keying material. Multiple versions
// coexist during rotation grace periods; validation accepts any loaded
// version while new redactions always use the highest.
type Nonce struct {
	Version  int       `json:"version"`
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
	LoadedAt time.Time `json:"-"`
}

// ValidateValue checks the nonce value is well-formed keying material.
func (n Nonce) ValidateValue() error {
	if len(n.Value) != NonceValueLen {
		return fmt.Errorf("nonce value must be %d hex chars, got %d", NonceValueLen, len(n.Value))
	}
	if _, err := hex.DecodeString(n.Value); err != nil {
		return fmt.Errorf("nonce value is not hex: %w", err)
	}
	return nil
}

// KeyBytes decodes the nonce value into raw key material.
func (n Nonce) KeyBytes() ([]byte, error) {
	b, err := hex.DecodeString(n.Value)
	if err != nil {
		return nil, fmt.Errorf("decode nonce v%d: %w", n.Version, err)
	}
	return b, nil
}

// NonceState discriminates the three outcomes of a nonce lookup. "Version
// unknown" and "backend dead" demand different handling from the redactor,
// so the lookup result is a sum, not a nullable pointer.
type NonceState int

const (
	NonceNotFound NonceState = iota
	NonceUnreachable
	NonceLoaded
)

// NonceLookup is the result of asking a secret store for a nonce version.
type NonceLookup struct {
	State NonceState
	Nonce *Nonce
}

// FoundNonce wraps a successfully loaded nonce.
func FoundNonce(n Nonce) NonceLookup {
	return NonceLookup{State: NonceLoaded, Nonce: &n}
}

// MissingNonce reports a version the backend does not have.
func MissingNonce() NonceLookup {
	return NonceLookup{State: NonceNotFound}
}

// UnreachableNonce reports a backend that could not be queried.
func UnreachableNonce() NonceLookup {
	return NonceLookup{State: NonceUnreachable}
}
