package local

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// FPStore persists one JSON file per FP event. Window reads scan the
// directory; at local-mode volumes that stays cheap and keeps every entity
// independently inspectable.
type FPStore struct {
	dir         string
	batchWindow time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFPStore creates the event directory and returns the store. batchWindow
// is the timestamp-randomization window; zero disables randomization.
func NewFPStore(dir string, batchWindow time.Duration) (*FPStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &FPStore{
		dir:         dir,
		batchWindow: batchWindow,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not crypto
	}, nil
}

// RecordEvent persists the event, randomizing its timestamp within the batch
// window. A duplicate EventID is an idempotent no-op.
func (s *FPStore) RecordEvent(ctx context.Context, event contracts.FPEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	if event.EventID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "event is missing event_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, eventFile(event.EventID))
	if _, err := os.Stat(path); err == nil {
		return nil // duplicate eventId: keep the first write
	}

	event.Timestamp = store.RandomizeTimestamp(event.Timestamp, s.batchWindow, s.rnd)
	if err := writeJSONAtomic(path, event, 0o600); err != nil {
		return contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "persist event %s", event.EventID)
	}
	return nil
}

// MarkFalsePositive records a reviewer's FP label for a finding as a new
// event. The label is what IsFalsePositive and the calibration windows read.
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

// IsFalsePositive reports whether any event labels the finding a false
// positive. The latest label for the finding wins.
func (s *FPStore) IsFalsePositive(ctx context.Context, findingID string) (bool, error) {
	events, err := s.scan(ctx, func(e *contracts.FPEvent) bool {
		return e.FindingID == findingID
	})
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	return events[len(events)-1].IsFalsePositive, nil
}

// WindowByCount returns the most recent n events for ruleID in insertion
// order: (timestamp, eventId) ascending.
func (s *FPStore) WindowByCount(ctx context.Context, ruleID string, n int) (*store.Window, error) {
	events, err := s.scan(ctx, func(e *contracts.FPEvent) bool {
		return e.RuleID == ruleID
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return buildWindow(ruleID, events), nil
}

// WindowSince returns the events for ruleID at or after t.
func (s *FPStore) WindowSince(ctx context.Context, ruleID string, t time.Time) (*store.Window, error) {
	events, err := s.scan(ctx, func(e *contracts.FPEvent) bool {
		return e.RuleID == ruleID && !e.Timestamp.Before(t)
	})
	if err != nil {
		return nil, err
	}
	return buildWindow(ruleID, events), nil
}

// scan loads every event matching keep, sorted by (timestamp, eventId).
func (s *FPStore) scan(ctx context.Context, keep func(*contracts.FPEvent) bool) ([]contracts.FPEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "read event dir")
	}

	var events []contracts.FPEvent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "evt_") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var e contracts.FPEvent
		if err := readJSON(filepath.Join(s.dir, entry.Name()), &e); err != nil {
			return nil, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "read event %s", entry.Name())
		}
		if keep(&e) {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].EventID < events[j].EventID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
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

func eventFile(eventID string) string {
	return keyFile("evt", eventID)
}
