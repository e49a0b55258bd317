//go:build gcp

package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

const baselinePrefix = "baselines/"

// BaselineStore persists drift baselines as GCS objects under baselines/,
// with the free-form metadata carried as object metadata.
type BaselineStore struct {
	client *gcstorage.Client
	bucket string
}

// NewBaselineStore wraps a GCS client for the given bucket.
func NewBaselineStore(client *gcstorage.Client, bucket string) *BaselineStore {
	return &BaselineStore{client: client, bucket: bucket}
}

func baselineObject(id string) string {
	return baselinePrefix + id
}

// Put uploads the baseline, replacing any prior object with the same id.
func (s *BaselineStore) Put(ctx context.Context, id string, data []byte, meta store.BaselineMeta) error {
	if id == "" {
		return fmt.Errorf("baseline id is required")
	}

	obj := s.client.Bucket(s.bucket).Object(baselineObject(id))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if len(meta) > 0 {
		w.Metadata = map[string]string(meta)
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for baseline %s: %w", id, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for baseline %s: %w", id, err)
	}
	return nil
}

// Get downloads the baseline, or returns (nil, nil) when the id is unknown.
func (s *BaselineStore) Get(ctx context.Context, id string) (*store.Baseline, error) {
	obj := s.client.Bucket(s.bucket).Object(baselineObject(id))

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("gcs attrs failed for baseline %s: %w", id, err)
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("gcs get failed for baseline %s: %w", id, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", id, err)
	}

	baseline := &store.Baseline{ID: id, Data: data}
	if len(attrs.Metadata) > 0 {
		baseline.Meta = store.BaselineMeta(attrs.Metadata)
	}
	return baseline, nil
}

// List returns the stored baseline ids in lexical order.
func (s *BaselineStore) List(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcstorage.Query{Prefix: baselinePrefix})

	var ids []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed: %w", err)
		}
		ids = append(ids, strings.TrimPrefix(attrs.Name, baselinePrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the baseline. Deleting an unknown id is a no-op.
func (s *BaselineStore) Delete(ctx context.Context, id string) error {
	err := s.client.Bucket(s.bucket).Object(baselineObject(id)).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for baseline %s: %w", id, err)
	}
	return nil
}
