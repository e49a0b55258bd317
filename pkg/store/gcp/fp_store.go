//go:build gcp

package gcp

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// FPStore persists FP events in a Firestore collection, one document per
// event keyed on the event id. Window queries need a composite index on
// (rule_id, ts).
type FPStore struct {
	client      *firestore.Client
	coll        string
	batchWindow time.Duration
	rnd         *rand.Rand
}

type fpDoc struct {
	EventID         string     `firestore:"event_id"`
	RuleID          string     `firestore:"rule_id"`
	RuleVersion     string     `firestore:"rule_version,omitempty"`
	FindingID       string     `firestore:"finding_id"`
	OrgIDHash       string     `firestore:"org_hash"`
	Timestamp       time.Time  `firestore:"ts"`
	IsFalsePositive bool       `firestore:"is_fp"`
	ReviewedBy      string     `firestore:"reviewed_by,omitempty"`
	Ticket          string     `firestore:"ticket,omitempty"`
	Consent         string     `firestore:"consent,omitempty"`
	ExpiresAt       *time.Time `firestore:"expires_at,omitempty"`
}

// NewFPStore wraps a Firestore client for the given collection.
func NewFPStore(client *firestore.Client, coll string, batchWindow time.Duration) *FPStore {
	return &FPStore{
		client:      client,
		coll:        coll,
		batchWindow: batchWindow,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not crypto
	}
}

// RecordEvent creates the event document. Create fails with AlreadyExists
// for a duplicate event id, which is absorbed as an idempotent no-op.
func (s *FPStore) RecordEvent(ctx context.Context, event contracts.FPEvent) error {
	if event.EventID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "event is missing event_id")
	}

	event.Timestamp = store.RandomizeTimestamp(event.Timestamp, s.batchWindow, s.rnd)

	_, err := s.client.Collection(s.coll).Doc(event.EventID).Create(ctx, toDoc(event))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil // duplicate eventId: keep the first write
		}
		return contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "create event %s", event.EventID)
	}
	return nil
}

// MarkFalsePositive records a reviewer label for the finding.
func (s *FPStore) MarkFalsePositive(ctx context.Context, findingID, reviewer, ticket string) error {
	if findingID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "finding id is required")
	}
	return s.RecordEvent(ctx, contracts.FPEvent{
		EventID:         uuid.NewString(),
		FindingID:       findingID,
		Timestamp:       time.Now().UTC(),
		IsFalsePositive: true,
		ReviewedBy:      reviewer,
		Ticket:          ticket,
	})
}

// IsFalsePositive reads the newest label for the finding.
func (s *FPStore) IsFalsePositive(ctx context.Context, findingID string) (bool, error) {
	iter := s.client.Collection(s.coll).
		Where("finding_id", "==", findingID).
		OrderBy("ts", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "query finding %s", findingID)
	}

	var d fpDoc
	if err := doc.DataTo(&d); err != nil {
		return false, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "decode event")
	}
	return d.IsFalsePositive, nil
}

// WindowByCount queries the newest n events for the rule, then restores
// insertion order.
func (s *FPStore) WindowByCount(ctx context.Context, ruleID string, n int) (*store.Window, error) {
	q := s.client.Collection(s.coll).
		Where("rule_id", "==", ruleID).
		OrderBy("ts", firestore.Desc)
	if n > 0 {
		q = q.Limit(n)
	}

	events, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	return buildWindow(ruleID, events), nil
}

// WindowSince queries the events for the rule at or after t.
func (s *FPStore) WindowSince(ctx context.Context, ruleID string, t time.Time) (*store.Window, error) {
	q := s.client.Collection(s.coll).
		Where("rule_id", "==", ruleID).
		Where("ts", ">=", t)

	events, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	return buildWindow(ruleID, events), nil
}

func (s *FPStore) collect(ctx context.Context, q firestore.Query) ([]contracts.FPEvent, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var events []contracts.FPEvent
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "query events")
		}
		var d fpDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "decode event")
		}
		events = append(events, fromDoc(d))
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].EventID < events[j].EventID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func toDoc(e contracts.FPEvent) fpDoc {
	return fpDoc{
		EventID:         e.EventID,
		RuleID:          e.RuleID,
		RuleVersion:     e.RuleVersion,
		FindingID:       e.FindingID,
		OrgIDHash:       e.OrgIDHash,
		Timestamp:       e.Timestamp,
		IsFalsePositive: e.IsFalsePositive,
		ReviewedBy:      e.ReviewedBy,
		Ticket:          e.Ticket,
		Consent:         string(e.Consent),
		ExpiresAt:       e.ExpiresAt,
	}
}

func fromDoc(d fpDoc) contracts.FPEvent {
	return contracts.FPEvent{
		EventID:         d.EventID,
		RuleID:          d.RuleID,
		RuleVersion:     d.RuleVersion,
		FindingID:       d.FindingID,
		OrgIDHash:       d.OrgIDHash,
		Timestamp:       d.Timestamp.UTC(),
		IsFalsePositive: d.IsFalsePositive,
		ReviewedBy:      d.ReviewedBy,
		Ticket:          d.Ticket,
		Consent:         contracts.ConsentType(d.Consent),
		ExpiresAt:       d.ExpiresAt,
	}
}

func buildWindow(ruleID string, events []contracts.FPEvent) *store.Window {
	w := &store.Window{RuleID: ruleID, Events: events, Total: len(events)}
	for i := range events {
		if events[i].IsFalsePositive {
			w.FalsePositives++
		}
	}
	return w
}
