package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// BaselineStore keeps one JSON file per baseline with the payload inline.
type BaselineStore struct {
	dir string
	mu  sync.Mutex
}

type baselineFile struct {
	ID       string             `json:"id"`
	Data     []byte             `json:"data"`
	Meta     store.BaselineMeta `json:"meta,omitempty"`
	StoredAt time.Time          `json:"stored_at"`
}

// NewBaselineStore creates the baselines directory and returns the store.
func NewBaselineStore(dir string) (*BaselineStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &BaselineStore{dir: dir}, nil
}

// Put stores the baseline, replacing any prior content for the id.
func (s *BaselineStore) Put(ctx context.Context, id string, data []byte, meta store.BaselineMeta) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put baseline: %w", err)
	}
	if id == "" {
		return fmt.Errorf("baseline id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, baselineFileName(id))
	record := baselineFile{ID: id, Data: data, Meta: meta, StoredAt: time.Now().UTC()}
	if err := writeJSONAtomic(path, record, 0o600); err != nil {
		return fmt.Errorf("persist baseline %s: %w", id, err)
	}
	return nil
}

// Get returns the baseline, or (nil, nil) when the id is unknown.
func (s *BaselineStore) Get(ctx context.Context, id string) (*store.Baseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var record baselineFile
	if err := readJSON(filepath.Join(s.dir, baselineFileName(id)), &record); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read baseline %s: %w", id, err)
	}
	return &store.Baseline{ID: record.ID, Data: record.Data, Meta: record.Meta}, nil
}

// List returns the stored baseline ids, sorted.
func (s *BaselineStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read baseline dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var record baselineFile
		if err := readJSON(filepath.Join(s.dir, entry.Name()), &record); err != nil {
			return nil, fmt.Errorf("read baseline %s: %w", entry.Name(), err)
		}
		ids = append(ids, record.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the baseline. Deleting an unknown id is a no-op.
func (s *BaselineStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete baseline: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, baselineFileName(id)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete baseline %s: %w", id, err)
	}
	return nil
}

func baselineFileName(id string) string {
	return keyFile("b", id)
}
