package store

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Keystore is the versioned nonce document shared by secret-store backends
// that persist every version in one blob: a local file, an SSM parameter, or
// a Secret Manager payload. Mutations go through Install and Remove so the
// no-reuse rule holds on every backend.
type Keystore struct {
	ActiveVersion int `json:"active_version"`
	// LastVersion never decreases; version numbers are not reused after
	// retirement.
	LastVersion int                      `json:"last_version"`
	Nonces      map[string]KeystoreEntry `json:"nonces"`
}

// KeystoreEntry is one stored nonce version.
type KeystoreEntry struct {
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewKeystore returns an empty keystore.
func NewKeystore() *Keystore {
	return &Keystore{Nonces: make(map[string]KeystoreEntry)}
}

// DecodeKeystore parses a persisted keystore document.
func DecodeKeystore(data []byte) (*Keystore, error) {
	ks := NewKeystore()
	if err := json.Unmarshal(data, ks); err != nil {
		return nil, err
	}
	if ks.Nonces == nil {
		ks.Nonces = make(map[string]KeystoreEntry)
	}
	return ks, nil
}

// Encode serializes the keystore for persistence.
func (k *Keystore) Encode() ([]byte, error) {
	return json.Marshal(k)
}

// Lookup resolves version (<= 0 means active) to a nonce. The returned nonce
// carries no LoadedAt; the backend stamps it.
func (k *Keystore) Lookup(version int) (contracts.Nonce, bool) {
	if version <= 0 {
		version = k.ActiveVersion
	}
	entry, ok := k.Nonces[VersionKey(version)]
	if !ok {
		return contracts.Nonce{}, false
	}
	return contracts.Nonce{Version: version, Value: entry.Value, IssuedAt: entry.IssuedAt}, true
}

// Versions returns the loaded versions in ascending order.
func (k *Keystore) Versions() []int {
	versions := make([]int, 0, len(k.Nonces))
	for key := range k.Nonces {
		if v, ok := ParseVersionKey(key); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions
}

// Install stores value under the next version number and makes it active.
func (k *Keystore) Install(value string, at time.Time) int {
	next := k.LastVersion
	for key := range k.Nonces {
		if v, ok := ParseVersionKey(key); ok && v > next {
			next = v
		}
	}
	next++

	k.Nonces[VersionKey(next)] = KeystoreEntry{Value: value, IssuedAt: at.UTC()}
	k.ActiveVersion = next
	k.LastVersion = next
	return next
}

// Remove drops a version. Removing the active version falls back to the
// highest remaining one.
func (k *Keystore) Remove(version int) {
	delete(k.Nonces, VersionKey(version))
	if k.ActiveVersion == version {
		k.ActiveVersion = 0
		for key := range k.Nonces {
			if v, ok := ParseVersionKey(key); ok && v > k.ActiveVersion {
				k.ActiveVersion = v
			}
		}
	}
}

// VersionKey formats a version number as a keystore map key.
func VersionKey(v int) string {
	return "v" + strconv.Itoa(v)
}

// ParseVersionKey parses a keystore map key back to a version number.
func ParseVersionKey(key string) (int, bool) {
	if !strings.HasPrefix(key, "v") {
		return 0, false
	}
	v, err := strconv.Atoi(key[1:])
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
