package aws

import (
	"context"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/idempotency"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the ledger.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// claimCondition lets a claim take over failed or expired entries.
const claimCondition = "attribute_not_exists(idempotency_key) OR #s = :failed OR expires_at <= :now"

// item is the shape stored in the idempotency table. expires_at doubles as
// the table's TTL attribute.
type item struct {
	Key            string `dynamodbav:"idempotency_key"`
	Status         string `dynamodbav:"status"`
	ResponseStatus int    `dynamodbav:"response_status,omitempty"`
	ResponseBody   []byte `dynamodbav:"response_body,omitempty"`
	Note           string `dynamodbav:"release_note,omitempty"`
	CreatedAt      int64  `dynamodbav:"created_at"`
	UpdatedAt      int64  `dynamodbav:"updated_at"`
	ExpiresAt      int64  `dynamodbav:"expires_at"`
}

func (it item) record() *idempotency.Record {
	return &idempotency.Record{
		Key:            it.Key,
		Status:         idempotency.Status(it.Status),
		ResponseStatus: it.ResponseStatus,
		ResponseBody:   it.ResponseBody,
		CreatedAt:      time.Unix(it.CreatedAt, 0).UTC(),
		UpdatedAt:      time.Unix(it.UpdatedAt, 0).UTC(),
		ExpiresAt:      time.Unix(it.ExpiresAt, 0).UTC(),
	}
}

// Ledger is an idempotency ledger on a DynamoDB table keyed by
// idempotency_key.
type Ledger struct {
	client DynamoDBAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

var _ idempotency.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger whose entries live for ttl.
func NewLedger(client DynamoDBAPI, table string, ttl time.Duration) *Ledger {
	return &Ledger{client: client, table: table, ttl: ttl, now: time.Now}
}

func (l *Ledger) Claim(ctx context.Context, key string) (*idempotency.Record, error) {
	now := l.now()
	av, err := attributevalue.MarshalMap(item{
		Key:       key,
		Status:    string(idempotency.StatusInProgress),
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
		ExpiresAt: now.Add(l.ttl).Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                sdkaws.String(l.table),
		Item:                     av,
		ConditionExpression:      sdkaws.String(claimCondition),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: string(idempotency.StatusFailed)},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return nil, nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "ConditionalCheckFailedException" {
		return nil, errors.Wrap(err, "put item")
	}

	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      sdkaws.String(l.table),
		Key:            keyAttr(key),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get item")
	}
	if len(out.Item) == 0 {
		// Expired by TTL between the two calls.
		return l.Claim(ctx, key)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, errors.Wrap(err, "unmarshal item")
	}
	return it.record(), nil
}

func (l *Ledger) Complete(ctx context.Context, key string, status int, body []byte) error {
	return l.update(ctx, key, "SET #s = :done, response_status = :rs, response_body = :rb, updated_at = :ua",
		map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: string(idempotency.StatusDone)},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(status)},
			":rb":   &types.AttributeValueMemberB{Value: body},
		})
}

func (l *Ledger) Release(ctx context.Context, key, note string) error {
	return l.update(ctx, key, "SET #s = :failed, release_note = :n, updated_at = :ua",
		map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: string(idempotency.StatusFailed)},
			":n":      &types.AttributeValueMemberS{Value: note},
		})
}

func (l *Ledger) update(ctx context.Context, key, expr string, values map[string]types.AttributeValue) error {
	values[":ua"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(l.now().Unix(), 10)}
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 sdkaws.String(l.table),
		Key:                       keyAttr(key),
		UpdateExpression:          sdkaws.String(expr),
		ConditionExpression:       sdkaws.String("attribute_exists(idempotency_key)"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return idempotency.ErrUnknownKey
		}
		return errors.Wrap(err, "update item")
	}
	return nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}
