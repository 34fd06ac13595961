package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AWSDynamoItemClientV2 is the slice of the SDK surface the DynamoDB-backed
// store needs.
type AWSDynamoItemClientV2 interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const stateKeyName = "table_name"

// ddbRecord is the item layout of a migration-state record.
type ddbRecord struct {
	Table     string    `dynamodbav:"table_name"`
	Version   int64     `dynamodbav:"version"`
	Status    string    `dynamodbav:"status"`
	Revision  int64     `dynamodbav:"revision"`
	Updated   time.Time `dynamodbav:"updated_at"`
	LastError string    `dynamodbav:"last_error,omitempty"`
}

// DynamoStore keeps migration-state records in a DynamoDB table keyed by
// the migrated table's name. Writes are conditional on the stored revision
// so concurrent runs cannot both claim a table.
type DynamoStore struct {
	awsddb    AWSDynamoItemClientV2
	tableName string
}

var _ Store = &DynamoStore{}

func NewDynamoStore(awsddb AWSDynamoItemClientV2, tableName string) *DynamoStore {
	return &DynamoStore{awsddb: awsddb, tableName: tableName}
}

func (s *DynamoStore) key(table string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		stateKeyName: &types.AttributeValueMemberS{Value: table},
	}
}

func (s *DynamoStore) Get(ctx context.Context, table string) (Record, bool, error) {
	out, err := s.awsddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(table),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("get migration state: %w", err)
	}
	if out.Item == nil {
		return Record{}, false, nil
	}
	var raw ddbRecord
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal migration state: %w", err)
	}
	return Record{
		Table:     raw.Table,
		Version:   raw.Version,
		Status:    Status(raw.Status),
		Revision:  raw.Revision,
		Updated:   raw.Updated,
		LastError: raw.LastError,
	}, true, nil
}

func (s *DynamoStore) Put(ctx context.Context, rec Record, expectedRevision int64) error {
	item, err := attributevalue.MarshalMap(ddbRecord{
		Table:     rec.Table,
		Version:   rec.Version,
		Status:    string(rec.Status),
		Revision:  rec.Revision,
		Updated:   rec.Updated,
		LastError: rec.LastError,
	})
	if err != nil {
		return fmt.Errorf("marshal migration state: %w", err)
	}

	var cond expression.ConditionBuilder
	if expectedRevision == 0 {
		cond = expression.AttributeNotExists(expression.Name(stateKeyName))
	} else {
		cond = expression.Equal(expression.Name("revision"), expression.Value(expectedRevision))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}

	_, err = s.awsddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrRevisionMismatch
		}
		return fmt.Errorf("put migration state: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, table string) error {
	_, err := s.awsddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       s.key(table),
	})
	if err != nil {
		return fmt.Errorf("delete migration state: %w", err)
	}
	return nil
}
