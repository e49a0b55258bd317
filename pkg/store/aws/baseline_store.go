package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

const baselinePrefix = "baselines/"

// BaselineStore persists drift baselines as S3 objects under baselines/,
// with the free-form metadata carried as object metadata.
type BaselineStore struct {
	client S3API
	bucket string
}

// NewBaselineStore wraps an S3 client for the given bucket.
func NewBaselineStore(client S3API, bucket string) *BaselineStore {
	return &BaselineStore{client: client, bucket: bucket}
}

func baselineKey(id string) string {
	return baselinePrefix + id
}

// Put uploads the baseline, replacing any prior object with the same id.
func (s *BaselineStore) Put(ctx context.Context, id string, data []byte, meta store.BaselineMeta) error {
	if id == "" {
		return fmt.Errorf("baseline id is required")
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(baselineKey(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}
	if len(meta) > 0 {
		input.Metadata = map[string]string(meta)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put failed for baseline %s: %w", id, err)
	}
	return nil
}

// Get downloads the baseline, or returns (nil, nil) when the id is unknown.
func (s *BaselineStore) Get(ctx context.Context, id string) (*store.Baseline, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(baselineKey(id)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get failed for baseline %s: %w", id, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", id, err)
	}

	baseline := &store.Baseline{ID: id, Data: data}
	if len(result.Metadata) > 0 {
		baseline.Meta = store.BaselineMeta(result.Metadata)
	}
	return baseline, nil
}

// List returns the stored baseline ids in lexical order, following
// continuation tokens across pages.
func (s *BaselineStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(baselinePrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			ids = append(ids, strings.TrimPrefix(*obj.Key, baselinePrefix))
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return ids, nil
}

// Delete removes the baseline. Deleting an unknown id is a no-op, matching
// S3's delete semantics.
func (s *BaselineStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(baselineKey(id)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed for baseline %s: %w", id, err)
	}
	return nil
}
