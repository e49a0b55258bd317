package aws

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

const bucketWidth = time.Hour

// BlockCounter counts blocking decisions in a DynamoDB table keyed on
// (rule_id, bucket), one item per rule per hour. Increments are a single
// atomic ADD, so concurrent oracles never lose counts. Expiry is enforced on
// read; pairing the expires_at attribute with a table TTL keeps old buckets
// from accumulating.
type BlockCounter struct {
	client DynamoDBAPI
	table  string
	clock  func() time.Time
}

// NewBlockCounter wraps a DynamoDB client for the given table.
func NewBlockCounter(client DynamoDBAPI, table string) *BlockCounter {
	return &BlockCounter{client: client, table: table, clock: time.Now}
}

// WithClock overrides the time source.
func (c *BlockCounter) WithClock(clock func() time.Time) *BlockCounter {
	c.clock = clock
	return c
}

func bucketOf(t time.Time) int64 {
	return t.Unix() / int64(bucketWidth/time.Second)
}

// Increment adds one to the current hour bucket and refreshes its expiry.
func (c *BlockCounter) Increment(ctx context.Context, ruleID string, ttl time.Duration) error {
	if ruleID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule id is required")
	}
	now := c.clock()

	_, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.table),
		Key: map[string]types.AttributeValue{
			"rule_id": &types.AttributeValueMemberS{Value: ruleID},
			"bucket":  &types.AttributeValueMemberN{Value: strconv.FormatInt(bucketOf(now), 10)},
		},
		UpdateExpression: aws.String("ADD cnt :one SET expires_at = :exp"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)},
		},
	})
	if err != nil {
		return contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "increment %s", ruleID)
	}
	return nil
}

// Get sums the unexpired buckets that start inside the window.
func (c *BlockCounter) Get(ctx context.Context, ruleID string, window time.Duration) (int, error) {
	now := c.clock()
	minBucket := bucketOf(now.Add(-window))

	out, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("rule_id = :r AND bucket >= :min"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":   &types.AttributeValueMemberS{Value: ruleID},
			":min": &types.AttributeValueMemberN{Value: strconv.FormatInt(minBucket, 10)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "read counts for %s", ruleID)
	}

	total := 0
	for _, item := range out.Items {
		exp, ok := item["expires_at"].(*types.AttributeValueMemberN)
		if ok {
			if unix, err := strconv.ParseInt(exp.Value, 10, 64); err == nil && unix <= now.Unix() {
				continue // table TTL has not swept it yet
			}
		}
		if cnt, ok := item["cnt"].(*types.AttributeValueMemberN); ok {
			if n, err := strconv.Atoi(cnt.Value); err == nil {
				total += n
			}
		}
	}
	return total, nil
}
