package contracts

import "time"

// FPEvent is an immutable record of a past decision labeled after the fact.
// Events are keyed by EventID; recording the same ID twice is an idempotent
// no-op. Timestamps are randomized within a batch window before persistence,
// so they identify a window, never an exact review moment.
//
//nolint:govet // fieldalignment: order matches the persisted schema
type FPEvent struct {
	EventID         string      `json:"event_id"`
	RuleID          string      `json:"rule_id"`
	RuleVersion     string      `json:"rule_version,omitempty"`
	FindingID       string      `json:"finding_id"`
	OrgIDHash       string      `json:"org_id_hash"`
	Timestamp       time.Time   `json:"timestamp"`
	IsFalsePositive bool        `json:"is_false_positive"`
	ReviewedBy      string      `json:"reviewed_by,omitempty"`
	Ticket          string      `json:"ticket,omitempty"`
	Consent         ConsentType `json:"consent,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
}

// BlockBucket is one hour-aligned counter cell: (rule, bucket) -> count.
// Buckets expire with the breaker window; eviction at exactly the TTL
// boundary may lose at most one bucket width of history.
type BlockBucket struct {
	RuleID    string    `json:"rule_id"`
	Bucket    int64     `json:"bucket"`
	Count     int       `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}
