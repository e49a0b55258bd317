// Package redact brands sensitive spans with nonce-keyed HMACs so reports
// can prove a span was seen without carrying it. Multiple nonce versions
// coexist during rotation grace periods: validation accepts any loaded
// version, new redactions always use the highest.
package redact

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Capability tags classify what kind of span was redacted.
const (
	TagSecret = "SECRET"
	TagEmail  = "EMAIL"
	TagToken  = "TOKEN"
)

// hkdfSalt separates the redaction key schedule from any other use of the
// same nonce material.
const hkdfSalt = "dissonance/redact"

// tagSeparator keeps tag and plaintext from aliasing under concatenation.
const tagSeparator = 0x1f

// brandDisplayLen is how many hex chars of the MAC the inline token shows.
const brandDisplayLen = 16

// Branded is the durable result of redacting one span.
type Branded struct {
	Brand   string `json:"brand"`
	Version int    `json:"version"`
	Tag     string `json:"tag"`
	MacLen  int    `json:"macLen"`
}

// Token renders the inline replacement for the redacted span.
func (b Branded) Token() string {
	brand := b.Brand
	if len(brand) > brandDisplayLen {
		brand = brand[:brandDisplayLen]
	}
	return fmt.Sprintf("[REDACTED:%s:v%d:%s]", b.Tag, b.Version, brand)
}

// Redactor computes and validates span brands against the cached nonce set.
type Redactor struct {
	cache *NonceCache
}

// NewRedactor builds a redactor over the nonce cache.
func NewRedactor(cache *NonceCache) *Redactor {
	return &Redactor{cache: cache}
}

// Redact brands text under the highest loaded nonce version.
func (r *Redactor) Redact(ctx context.Context, text, tag string) (Branded, error) {
	if tag == "" {
		return Branded{}, contracts.NewCodedError(contracts.CodeInvalidInput, "redaction tag is required")
	}

	snap, err := r.cache.Snapshot(ctx)
	if err != nil {
		return Branded{}, err
	}
	nonce, ok := snap.Highest()
	if !ok {
		return Branded{}, contracts.NewCodedError(contracts.CodeSecretStoreUnavailable, "no nonce versions loaded")
	}

	mac, err := computeBrand(nonce, tag, text)
	if err != nil {
		return Branded{}, err
	}
	return Branded{
		Brand:   hex.EncodeToString(mac),
		Version: nonce.Version,
		Tag:     tag,
		MacLen:  len(mac),
	}, nil
}

// Validate reports whether any currently loaded nonce version reproduces the
// brand for text. Comparison is constant time per version; a brand minted
// under a retired version no longer validates.
func (r *Redactor) Validate(ctx context.Context, text string, branded Branded) (bool, error) {
	expected, err := hex.DecodeString(branded.Brand)
	if err != nil {
		return false, contracts.NewCodedError(contracts.CodeInvalidInput, "brand is not hex")
	}

	snap, err := r.cache.Snapshot(ctx)
	if err != nil {
		return false, err
	}

	for _, nonce := range snap.Nonces {
		mac, err := computeBrand(nonce, branded.Tag, text)
		if err != nil {
			return false, err
		}
		if hmac.Equal(mac, expected) {
			return true, nil
		}
	}
	return false, nil
}

// computeBrand derives the per-tag subkey from the nonce via HKDF-SHA256 and
// returns HMAC-SHA256(subkey, tag || 0x1f || text).
func computeBrand(nonce contracts.Nonce, tag, text string) ([]byte, error) {
	ikm, err := nonce.KeyBytes()
	if err != nil {
		return nil, err
	}

	reader := hkdf.New(sha256.New, ikm, []byte(hkdfSalt), []byte(tag))
	subkey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, fmt.Errorf("derive redaction subkey: %w", err)
	}

	mac := hmac.New(sha256.New, subkey)
	mac.Write([]byte(tag))
	mac.Write([]byte{tagSeparator})
	mac.Write([]byte(text))
	return mac.Sum(nil), nil
}
