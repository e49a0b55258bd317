// Package store defines the five adapter capabilities the oracle consumes
// and the factory that builds them for a provider. Implementations live in
// the local, aws, and gcp subpackages; nothing outside an adapter may hold a
// handle to a store's internal state.
package store

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Window is the derived read-model over recent FP events for one rule.
// Events are in insertion order: (timestamp, eventId) ascending.
type Window struct {
	RuleID         string
	Events         []contracts.FPEvent
	Total          int
	FalsePositives int
}

// ObservedFPR returns labeledFP / total, or 0 for an empty window.
func (w *Window) ObservedFPR() float64 {
	if w == nil || w.Total == 0 {
		return 0
	}
	return float64(w.FalsePositives) / float64(w.Total)
}

// FPStore persists false-positive events and serves windowed reads.
// Unavailability surfaces as FP_STORE_UNAVAILABLE.
type FPStore interface {
	// RecordEvent persists the event. Recording a duplicate EventID is an
	// idempotent no-op, not an error.
	RecordEvent(ctx context.Context, event contracts.FPEvent) error

	// MarkFalsePositive labels a prior finding as a false positive.
	MarkFalsePositive(ctx context.Context, findingID, reviewer, ticket string) error

	// IsFalsePositive reports whether the finding carries an FP label.
	IsFalsePositive(ctx context.Context, findingID string) (bool, error)

	// WindowByCount returns the most recent n events for the rule.
	WindowByCount(ctx context.Context, ruleID string, n int) (*Window, error)

	// WindowSince returns the events for the rule at or after t.
	WindowSince(ctx context.Context, ruleID string, t time.Time) (*Window, error)
}

// ConsentStore persists resource-scoped consent records. Hierarchy
// resolution (repo over org, absent means not_requested) lives in HasConsent;
// GetConsent serves the newest record at the most specific scope for audit
// surfaces and does not filter by resource.
type ConsentStore interface {
	HasConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) (bool, error)
	GetConsent(ctx context.Context, orgID, repoID string) (*contracts.ConsentRecord, error)
	GrantConsent(ctx context.Context, record contracts.ConsentRecord) error
	RevokeConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) error
}

// BlockCounter tracks blocking decisions in hour-aligned buckets. Increments
// are atomic; Get sums the buckets inside the window at a point in time.
type BlockCounter interface {
	Increment(ctx context.Context, ruleID string, ttl time.Duration) error
	Get(ctx context.Context, ruleID string, window time.Duration) (int, error)
}

// SecretStore serves versioned redaction nonces. A missing version is a
// NonceNotFound lookup, not an error; only malformed backend state errors.
type SecretStore interface {
	// GetNonce returns the nonce for version, or the active (highest)
	// version when version <= 0.
	GetNonce(ctx context.Context, version int) (contracts.NonceLookup, error)

	// ListVersions returns the currently loaded versions in ascending order.
	ListVersions(ctx context.Context) ([]int, error)

	// Rotate installs value as a new nonce version and returns it. Prior
	// versions stay valid until explicitly retired.
	Rotate(ctx context.Context, value string) (int, error)

	// Retire removes a version from the loaded set.
	Retire(ctx context.Context, version int) error

	// IsReachable probes the backend without reading secret material.
	IsReachable(ctx context.Context) bool
}

// BaselineMeta is free-form string metadata stored beside a baseline.
type BaselineMeta map[string]string

// Baseline is a stored drift baseline.
type Baseline struct {
	ID   string
	Data []byte
	Meta BaselineMeta
}

// BaselineStorage persists drift baselines. Get returns (nil, nil) for an
// unknown id.
type BaselineStorage interface {
	Put(ctx context.Context, id string, data []byte, meta BaselineMeta) error
	Get(ctx context.Context, id string) (*Baseline, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// Adapters bundles one provider's implementations of the five capabilities.
type Adapters struct {
	Provider  string
	FP        FPStore
	Consent   ConsentStore
	Blocks    BlockCounter
	Secrets   SecretStore
	Baselines BaselineStorage
}
