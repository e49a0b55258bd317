package aws

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// orgScope marks an org-wide record in the scope_key partition key. Repo ids
// never start with an underscore, so the sentinel cannot collide.
const orgScope = "_org"

// ConsentStore persists consent records in a DynamoDB table keyed on
// (scope_key, resource), where scope_key is "org#repo" or "org#_org".
type ConsentStore struct {
	client DynamoDBAPI
	table  string
	clock  func() time.Time
}

// NewConsentStore wraps a DynamoDB client for the given table.
func NewConsentStore(client DynamoDBAPI, table string) *ConsentStore {
	return &ConsentStore{client: client, table: table, clock: time.Now}
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

// HasConsent resolves the hierarchy: a repo-scope record, when present,
// decides regardless of its state; otherwise the org-scope record decides;
// otherwise consent was never requested.
func (s *ConsentStore) HasConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) (bool, error) {
	now := s.clock()

	if repoID != "" {
		rec, err := s.getItem(ctx, scopeKey(orgID, repoID), resource)
		if err != nil {
			return false, err
		}
		if rec != nil {
			return rec.Active(now), nil
		}
	}

	rec, err := s.getItem(ctx, scopeKey(orgID, ""), resource)
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

	item := map[string]types.AttributeValue{
		"scope_key":  &types.AttributeValueMemberS{Value: scopeKey(record.OrgID, record.RepoID)},
		"resource":   &types.AttributeValueMemberS{Value: string(record.Resource)},
		"org_id":     &types.AttributeValueMemberS{Value: record.OrgID},
		"type":       &types.AttributeValueMemberS{Value: string(record.Type)},
		"granted_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(record.GrantedAt.UnixMilli(), 10)},
		"grantor":    &types.AttributeValueMemberS{Value: record.Grantor},
	}
	if record.RepoID != "" {
		item["repo_id"] = &types.AttributeValueMemberS{Value: record.RepoID}
	}
	if record.ExpiresAt != nil {
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(record.ExpiresAt.UnixMilli(), 10)}
	}
	if record.RevokedAt != nil {
		item["revoked_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(record.RevokedAt.UnixMilli(), 10)}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "put consent for %s", record.OrgID)
	}
	return nil
}

// RevokeConsent stamps revoked_at on an existing record. Revoking an absent
// record is a no-op.
func (s *ConsentStore) RevokeConsent(ctx context.Context, orgID string, resource contracts.Resource, repoID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"scope_key": &types.AttributeValueMemberS{Value: scopeKey(orgID, repoID)},
			"resource":  &types.AttributeValueMemberS{Value: string(resource)},
		},
		UpdateExpression:    aws.String("SET revoked_at = :now"),
		ConditionExpression: aws.String("attribute_exists(scope_key)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.clock().UnixMilli(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil
		}
		return contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "revoke consent for %s", orgID)
	}
	return nil
}

func (s *ConsentStore) getItem(ctx context.Context, scope string, resource contracts.Resource) (*contracts.ConsentRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"scope_key": &types.AttributeValueMemberS{Value: scope},
			"resource":  &types.AttributeValueMemberS{Value: string(resource)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "get consent %s", scope)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return decodeConsent(out.Item), nil
}

func (s *ConsentStore) newestAtScope(ctx context.Context, scope string) (*contracts.ConsentRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("scope_key = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: scope},
		},
	})
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeConsentStoreUnavailable, err, "query consent %s", scope)
	}

	var newest *contracts.ConsentRecord
	for _, item := range out.Items {
		rec := decodeConsent(item)
		if newest == nil || rec.GrantedAt.After(newest.GrantedAt) {
			newest = rec
		}
	}
	return newest, nil
}

func decodeConsent(item map[string]types.AttributeValue) *contracts.ConsentRecord {
	rec := &contracts.ConsentRecord{}
	if v, ok := item["org_id"].(*types.AttributeValueMemberS); ok {
		rec.OrgID = v.Value
	}
	if v, ok := item["repo_id"].(*types.AttributeValueMemberS); ok {
		rec.RepoID = v.Value
	}
	if v, ok := item["resource"].(*types.AttributeValueMemberS); ok {
		rec.Resource = contracts.Resource(v.Value)
	}
	if v, ok := item["type"].(*types.AttributeValueMemberS); ok {
		rec.Type = contracts.ConsentType(v.Value)
	}
	if v, ok := item["grantor"].(*types.AttributeValueMemberS); ok {
		rec.Grantor = v.Value
	}
	if t := numTime(item["granted_at"]); t != nil {
		rec.GrantedAt = *t
	}
	rec.ExpiresAt = numTime(item["expires_at"])
	rec.RevokedAt = numTime(item["revoked_at"])
	return rec
}

func numTime(av types.AttributeValue) *time.Time {
	v, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return nil
	}
	ms, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
