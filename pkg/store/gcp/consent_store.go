//go:build gcp

package gcp

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// orgScope marks an org-wide record in the scope segment of the document id.
// Repo ids never start with an underscore, so the sentinel cannot collide.
const orgScope = "_org"

// ConsentStore persists consent records in a Firestore collection, one
// document per (scope, resource) keyed "org#repo#resource" or
// "org#_org#resource".
type ConsentStore struct {
	client *firestore.Client
	coll   string
	clock  func() time.Time
}

type consentDoc struct {
	ScopeKey  string     `firestore:"scope_key"`
	OrgID     string     `firestore:"org_id"`
	RepoID    string     `firestore:"repo_id,omitempty"`
	Resource  string     `firestore:"resource"`
	Type      string     `firestore:"type"`
	GrantedAt time.Time  `firestore:"granted_at"`
	ExpiresAt *time.Time `firestore:"expires_at,omitempty"`
	RevokedAt *time.Time `firestore:"revoked_at,omitempty"`
	Grantor   string     `firestore:"grantor,omitempty"`
}

// NewConsentStore wraps a Firestore client for the given collection.
func NewConsentStore(client *firestore.Client, coll string) *ConsentStore {
	return &ConsentStore{client: client, coll: coll, clock: time.Now}
}

// WithClock overrides the time source.
func (s *ConsentStore) WithClock(clock func() time.Time) *ConsentStore {
	s.clock = clock
	return s
}

func scopeKey(orgID, repoID string) string {
	if repoID == "" {
		repoID = orgScope
	}
	return orgID + "#" + repoID
}

func docID(orgID, repoID string, resource contracts.Resource) string {
	return scopeKey(orgID, repoID) + "#" + string(resource)
}

// HasConsent resolves the hierarchy: a repo-scope record, when present,
// decides regardless of its state; otherwise the org-scope record decides;
// otherwise consent was never requested.
func (s *ConsentStore) HasConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) (bool, error) {
	now := s.clock()

	if repoID != "" {
		rec, err := s.getDoc(ctx, docID(orgID, repoID, resource))
		if err != nil {
			return false, err
		}
		if rec != nil {
			return rec.Active(now), nil
		}
	}

	rec, err := s.getDoc(ctx, docID(orgID, "", resource))
	if err != nil {
		return false, err
	}
	return rec.Active(now), nil
}

// GetConsent returns the newest record at the most specific scope, or nil
// when the org has no records at all.
func (s *ConsentStore) GetConsent(ctx context.Context, orgID, repoID string) (*contracts.ConsentRecord, error) {
	if repoID != "" {
		rec, err := s.newestAtScope(ctx, scopeKey(orgID, repoID))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return s.newestAtScope(ctx, scopeKey(orgID, ""))
}

// GrantConsent writes the record, replacing any prior record at the same
// scope and resource.
func (s *ConsentStore) GrantConsent(ctx context.Context, record contracts.ConsentRecord) error {
	if record.OrgID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "consent record is missing org_id")
	}
	if record.Resource == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "consent record is missing resource")
	}
	if record.GrantedAt.IsZero() {
		record.GrantedAt = s.clock()
	}

	doc := consentDoc{
		ScopeKey:  scopeKey(record.OrgID, record.RepoID),
		OrgID:     record.OrgID,
		RepoID:    record.RepoID,
		Resource:  string(record.Resource),
		Type:      string(record.Type),
		GrantedAt: record.GrantedAt,
		ExpiresAt: record.ExpiresAt,
		RevokedAt: record.RevokedAt,
		Grantor:   record.Grantor,
	}

	id := docID(record.OrgID, record.RepoID, record.Resource)
	if _, err := s.client.Collection(s.coll).Doc(id).Set(ctx, doc); err != nil {
		return contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "put consent for %s", record.OrgID)
	}
	return nil
}

// RevokeConsent stamps revoked_at on an existing record. Revoking an absent
// record is a no-op.
func (s *ConsentStore) RevokeConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) error {
	id := docID(orgID, repoID, resource)
	_, err := s.client.Collection(s.coll).Doc(id).Update(ctx, []firestore.Update{
		{Path: "revoked_at", Value: s.clock()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "revoke consent for %s", orgID)
	}
	return nil
}

func (s *ConsentStore) getDoc(ctx context.Context, id string) (*contracts.ConsentRecord, error) {
	snap, err := s.client.Collection(s.coll).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "get consent %s", id)
	}
	return decodeConsent(snap)
}

func (s *ConsentStore) newestAtScope(ctx context.Context, scope string) (*contracts.ConsentRecord, error) {
	iter := s.client.Collection(s.coll).Where("scope_key", "==", scope).Documents(ctx)
	defer iter.Stop()

	var newest *contracts.ConsentRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "query consent %s", scope)
		}
		rec, err := decodeConsent(snap)
		if err != nil {
			return nil, err
		}
		if newest == nil || rec.GrantedAt.After(newest.GrantedAt) {
			newest = rec
		}
	}
	return newest, nil
}

func decodeConsent(snap *firestore.DocumentSnapshot) (*contracts.ConsentRecord, error) {
	var d consentDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "decode consent")
	}
	return &contracts.ConsentRecord{
		OrgID:     d.OrgID,
		RepoID:    d.RepoID,
		Resource:  contracts.Resource(d.Resource),
		Type:      contracts.ConsentType(d.Type),
		GrantedAt: d.GrantedAt.UTC(),
		ExpiresAt: d.ExpiresAt,
		RevokedAt: d.RevokedAt,
		Grantor:   d.Grantor,
	}, nil
}
