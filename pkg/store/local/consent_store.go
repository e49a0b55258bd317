package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// ConsentStore persists one JSON file per (org, repo, resource) record.
type ConsentStore struct {
	dir string
	mu  sync.Mutex

	clock func() time.Time
}

// NewConsentStore creates the consent directory and returns the store.
func NewConsentStore(dir string) (*ConsentStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &ConsentStore{dir: dir, clock: time.Now}, nil
}

// WithClock overrides the time source. Tests use it to pin expiry checks.
func (s *ConsentStore) WithClock(clock func() time.Time) *ConsentStore {
	s.clock = clock
	return s
}

// HasConsent resolves the hierarchy: a repo-scope record wins over the org
// record; a revoked or expired record is treated as absent at its scope but
// still shadows nothing (resolution falls through to the org scope only when
// no repo-scope record exists at all).
func (s *ConsentStore) HasConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("consent lookup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if repoID != "" {
		if rec, err := s.load(orgID, repoID, resource); err != nil {
			return false, err
		} else if rec != nil {
			return rec.Active(now), nil
		}
	}
	rec, err := s.load(orgID, "", resource)
	if err != nil {
		return false, err
	}
	return rec.Active(now), nil
}

// GetConsent returns the newest record at the most specific scope, or nil
// when the scope holds none. It does not filter by resource; policy checks
// go through HasConsent.
func (s *ConsentStore) GetConsent(ctx context.Context, orgID, repoID string) (*contracts.ConsentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("consent lookup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.scanAll()
	if err != nil {
		return nil, err
	}

	pick := func(repo string) *contracts.ConsentRecord {
		var newest *contracts.ConsentRecord
		for i := range records {
			r := &records[i]
			if r.OrgID != orgID || r.RepoID != repo {
				continue
			}
			if newest == nil || r.GrantedAt.After(newest.GrantedAt) {
				newest = r
			}
		}
		return newest
	}

	if repoID != "" {
		if rec := pick(repoID); rec != nil {
			return rec, nil
		}
	}
	return pick(""), nil
}

// GrantConsent writes the record, replacing any prior record at the same
// (org, repo, resource) scope.
func (s *ConsentStore) GrantConsent(ctx context.Context, record contracts.ConsentRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	if record.OrgID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "consent record is missing org_id")
	}
	if record.Resource == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "consent record is missing resource")
	}
	if record.GrantedAt.IsZero() {
		record.GrantedAt = s.clock().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, consentFile(record.OrgID, record.RepoID, record.Resource))
	if err := writeJSONAtomic(path, record, 0o600); err != nil {
		return contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "persist consent for %s", record.OrgID)
	}
	return nil
}

// RevokeConsent stamps the record at the exact scope with the revocation
// time. Revoking an absent record is a no-op.
func (s *ConsentStore) RevokeConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(orgID, repoID, resource)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	now := s.clock().UTC()
	rec.RevokedAt = &now
	path := filepath.Join(s.dir, consentFile(orgID, repoID, resource))
	if err := writeJSONAtomic(path, rec, 0o600); err != nil {
		return contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "persist revocation for %s", orgID)
	}
	return nil
}

// load reads the record at an exact (org, repo, resource) scope. Callers
// hold the mutex.
func (s *ConsentStore) load(orgID, repoID string, resource contracts.Resource) (*contracts.ConsentRecord, error) {
	path := filepath.Join(s.dir, consentFile(orgID, repoID, resource))
	var rec contracts.ConsentRecord
	if err := readJSON(path, &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "read consent for %s", orgID)
	}
	return &rec, nil
}

// scanAll loads every record in the store. Callers hold the mutex.
func (s *ConsentStore) scanAll() ([]contracts.ConsentRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "read consent dir")
	}

	var records []contracts.ConsentRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var rec contracts.ConsentRecord
		if err := readJSON(filepath.Join(s.dir, entry.Name()), &rec); err != nil {
			return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "read consent %s", entry.Name())
		}
		records = append(records, rec)
	}
	return records, nil
}

func consentFile(orgID, repoID string, resource contracts.Resource) string {
	return keyFile("c", orgID+"\x00"+repoID+"\x00"+string(resource))
}
