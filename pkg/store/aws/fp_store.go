package aws

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// Index names the FP events table must carry.
const (
	ruleTimestampIndex = "rule_id-ts-index"
	findingIndex       = "finding_id-ts-index"
)

// FPStore persists FP events in a DynamoDB table keyed on event_id, with
// GSIs on (rule_id, ts) for windows and (finding_id, ts) for label lookups.
type FPStore struct {
	client      DynamoDBAPI
	table       string
	batchWindow time.Duration
	rnd         *rand.Rand
}

// NewFPStore wraps a DynamoDB client for the given table.
func NewFPStore(client DynamoDBAPI, table string, batchWindow time.Duration) *FPStore {
	return &FPStore{
		client:      client,
		table:       table,
		batchWindow: batchWindow,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not crypto
	}
}

// RecordEvent writes the event with a conditional put on event_id. A
// conditional-check failure means the event already exists and is absorbed
// as an idempotent no-op.
func (s *FPStore) RecordEvent(ctx context.Context, event contracts.FPEvent) error {
	if event.EventID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "event is missing event_id")
	}

	event.Timestamp = store.RandomizeTimestamp(event.Timestamp, s.batchWindow, s.rnd)

	item := map[string]types.AttributeValue{
		"event_id": &types.AttributeValueMemberS{Value: event.EventID},
		"ts":       &types.AttributeValueMemberN{Value: strconv.FormatInt(event.Timestamp.UnixMilli(), 10)},
		"is_fp":    &types.AttributeValueMemberBOOL{Value: event.IsFalsePositive},
	}
	// GSI key attributes cannot be empty strings; an event without a rule or
	// finding simply stays out of that index.
	if event.RuleID != "" {
		item["rule_id"] = &types.AttributeValueMemberS{Value: event.RuleID}
	}
	if event.FindingID != "" {
		item["finding_id"] = &types.AttributeValueMemberS{Value: event.FindingID}
	}
	if event.OrgIDHash != "" {
		item["org_hash"] = &types.AttributeValueMemberS{Value: event.OrgIDHash}
	}
	if event.RuleVersion != "" {
		item["rule_version"] = &types.AttributeValueMemberS{Value: event.RuleVersion}
	}
	if event.ReviewedBy != "" {
		item["reviewed_by"] = &types.AttributeValueMemberS{Value: event.ReviewedBy}
	}
	if event.Ticket != "" {
		item["ticket"] = &types.AttributeValueMemberS{Value: event.Ticket}
	}
	if event.Consent != "" {
		item["consent"] = &types.AttributeValueMemberS{Value: string(event.Consent)}
	}
	if event.ExpiresAt != nil {
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(event.ExpiresAt.Unix(), 10)}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil // duplicate eventId: keep the first write
		}
		return contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "put event %s", event.EventID)
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

// IsFalsePositive reads the newest label for the finding via the finding GSI.
func (s *FPStore) IsFalsePositive(ctx context.Context, findingID string) (bool, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(findingIndex),
		KeyConditionExpression: aws.String("finding_id = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberS{Value: findingID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return false, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "query finding %s", findingID)
	}
	if len(out.Items) == 0 {
		return false, nil
	}
	if v, ok := out.Items[0]["is_fp"].(*types.AttributeValueMemberBOOL); ok {
		return v.Value, nil
	}
	return false, nil
}

// WindowByCount queries the rule GSI newest-first, then restores insertion
// order.
func (s *FPStore) WindowByCount(ctx context.Context, ruleID string, n int) (*store.Window, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(ruleTimestampIndex),
		KeyConditionExpression: aws.String("rule_id = :r"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r": &types.AttributeValueMemberS{Value: ruleID},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if n > 0 {
		input.Limit = aws.Int32(int32(n)) //nolint:gosec // window sizes are small
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "query window for %s", ruleID)
	}
	events := decodeEvents(out.Items)
	sortEvents(events)
	return buildWindow(ruleID, events), nil
}

// WindowSince queries the rule GSI for events at or after t.
func (s *FPStore) WindowSince(ctx context.Context, ruleID string, t time.Time) (*store.Window, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(ruleTimestampIndex),
		KeyConditionExpression: aws.String("rule_id = :r AND ts >= :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r": &types.AttributeValueMemberS{Value: ruleID},
			":t": &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)},
		},
	})
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeFPStoreUnavailable, err, "query window for %s", ruleID)
	}
	events := decodeEvents(out.Items)
	sortEvents(events)
	return buildWindow(ruleID, events), nil
}

func decodeEvents(items []map[string]types.AttributeValue) []contracts.FPEvent {
	events := make([]contracts.FPEvent, 0, len(items))
	for _, item := range items {
		var e contracts.FPEvent
		if v, ok := item["event_id"].(*types.AttributeValueMemberS); ok {
			e.EventID = v.Value
		}
		if v, ok := item["rule_id"].(*types.AttributeValueMemberS); ok {
			e.RuleID = v.Value
		}
		if v, ok := item["rule_version"].(*types.AttributeValueMemberS); ok {
			e.RuleVersion = v.Value
		}
		if v, ok := item["finding_id"].(*types.AttributeValueMemberS); ok {
			e.FindingID = v.Value
		}
		if v, ok := item["org_hash"].(*types.AttributeValueMemberS); ok {
			e.OrgIDHash = v.Value
		}
		if v, ok := item["ts"].(*types.AttributeValueMemberN); ok {
			if ms, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
				e.Timestamp = time.UnixMilli(ms).UTC()
			}
		}
		if v, ok := item["is_fp"].(*types.AttributeValueMemberBOOL); ok {
			e.IsFalsePositive = v.Value
		}
		if v, ok := item["reviewed_by"].(*types.AttributeValueMemberS); ok {
			e.ReviewedBy = v.Value
		}
		if v, ok := item["ticket"].(*types.AttributeValueMemberS); ok {
			e.Ticket = v.Value
		}
		if v, ok := item["consent"].(*types.AttributeValueMemberS); ok {
			e.Consent = contracts.ConsentType(v.Value)
		}
		events = append(events, e)
	}
	return events
}

func sortEvents(events []contracts.FPEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].EventID < events[j].EventID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
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
