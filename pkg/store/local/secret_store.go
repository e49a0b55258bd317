package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

const keystoreName = "nonces.json"

// SecretStore keeps every nonce version in a single keystore file. The file
// is written with 0600 since it holds live keying material.
type SecretStore struct {
	dir string
	mu  sync.Mutex

	clock func() time.Time
}

// NewSecretStore creates the secrets directory and returns the store.
func NewSecretStore(dir string) (*SecretStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &SecretStore{dir: dir, clock: time.Now}, nil
}

// WithClock overrides the time source for tests.
func (s *SecretStore) WithClock(clock func() time.Time) *SecretStore {
	s.clock = clock
	return s
}

// GetNonce returns the nonce for version, or the active version when
// version <= 0. A version the keystore does not hold is a NonceNotFound
// lookup; only a damaged keystore is an error.
func (s *SecretStore) GetNonce(ctx context.Context, version int) (contracts.NonceLookup, error) {
	if err := ctx.Err(); err != nil {
		return contracts.UnreachableNonce(), fmt.Errorf("nonce lookup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := s.load()
	if err != nil {
		return contracts.UnreachableNonce(), err
	}

	nonce, ok := ks.Lookup(version)
	if !ok {
		return contracts.MissingNonce(), nil
	}
	nonce.LoadedAt = s.clock()
	return contracts.FoundNonce(nonce), nil
}

// ListVersions returns the loaded versions in ascending order.
func (s *SecretStore) ListVersions(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := s.load()
	if err != nil {
		return nil, err
	}
	return ks.Versions(), nil
}

// Rotate installs value as the next version and makes it active. Prior
// versions stay loaded until Retire removes them.
func (s *SecretStore) Rotate(ctx context.Context, value string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rotate nonce: %w", err)
	}
	probe := contracts.Nonce{Value: value}
	if err := probe.ValidateValue(); err != nil {
		return 0, contracts.WrapCoded(contracts.CodeInvalidInput, err, "rotate nonce")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := s.load()
	if err != nil {
		return 0, err
	}

	next := ks.Install(value, s.clock())
	if err := s.persist(ks); err != nil {
		return 0, err
	}
	return next, nil
}

// Retire removes a version from the keystore. Retiring the active version
// falls back to the highest remaining one.
func (s *SecretStore) Retire(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retire nonce: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := s.load()
	if err != nil {
		return err
	}

	ks.Remove(version)
	return s.persist(ks)
}

// IsReachable probes the backing directory without touching key material.
func (s *SecretStore) IsReachable(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	_, err := os.Stat(s.dir)
	return err == nil
}

// load reads the keystore, or an empty one when the file does not exist yet.
// Callers hold the mutex.
func (s *SecretStore) load() (*store.Keystore, error) {
	ks := store.NewKeystore()
	path := filepath.Join(s.dir, keystoreName)
	if err := readJSON(path, ks); err != nil && !os.IsNotExist(err) {
		return nil, contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "read keystore")
	}
	if ks.Nonces == nil {
		ks.Nonces = make(map[string]store.KeystoreEntry)
	}
	return ks, nil
}

func (s *SecretStore) persist(ks *store.Keystore) error {
	path := filepath.Join(s.dir, keystoreName)
	if err := writeJSONAtomic(path, ks, 0o600); err != nil {
		return contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "persist keystore")
	}
	return nil
}
