package state

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeItemClient emulates just enough of the item API for DynamoStore:
// storage keyed by table_name plus the two conditions the store issues,
// attribute_not_exists and revision equality.
type fakeItemClient struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeItemClient() *fakeItemClient {
	return &fakeItemClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeItemClient) keyOf(item map[string]types.AttributeValue) string {
	return item[stateKeyName].(*types.AttributeValueMemberS).Value
}

func (f *fakeItemClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := f.items[f.keyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeItemClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := f.keyOf(params.Item)
	existing, exists := f.items[key]

	cond := aws.ToString(params.ConditionExpression)
	switch {
	case strings.Contains(cond, "attribute_not_exists"):
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("record exists")}
		}
	default:
		var want string
		for _, v := range params.ExpressionAttributeValues {
			want = v.(*types.AttributeValueMemberN).Value
		}
		if !exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("record missing")}
		}
		got := existing["revision"].(*types.AttributeValueMemberN).Value
		if got != want {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("revision mismatch")}
		}
	}
	f.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeItemClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, f.keyOf(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewDynamoStore(newFakeItemClient(), "dynomizer-state")

	_, found, err := store.Get(ctx, "Orders")
	require.NoError(t, err)
	require.False(t, found)

	rec := Record{
		Table:    "Orders",
		Version:  2,
		Status:   StatusInProgress,
		Revision: 1,
		Updated:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, rec, 0))

	got, found, err := store.Get(ctx, "Orders")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.Table, got.Table)
	require.Equal(t, rec.Version, got.Version)
	require.Equal(t, rec.Status, got.Status)
	require.Equal(t, rec.Revision, got.Revision)
}

func TestDynamoStore_ConditionalFailures(t *testing.T) {
	ctx := context.Background()
	store := NewDynamoStore(newFakeItemClient(), "dynomizer-state")

	rec := Record{Table: "Orders", Version: 1, Status: StatusIdle, Revision: 1}
	require.NoError(t, store.Put(ctx, rec, 0))

	// Create-if-absent against an existing record.
	require.ErrorIs(t, store.Put(ctx, rec, 0), ErrRevisionMismatch)

	// Wrong expected revision.
	rec.Revision = 5
	require.ErrorIs(t, store.Put(ctx, rec, 4), ErrRevisionMismatch)

	// Correct expected revision.
	rec.Revision = 2
	require.NoError(t, store.Put(ctx, rec, 1))
}

func TestDynamoStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewDynamoStore(newFakeItemClient(), "dynomizer-state")

	require.NoError(t, store.Put(ctx, Record{Table: "Orders", Revision: 1}, 0))
	require.NoError(t, store.Delete(ctx, "Orders"))

	_, found, err := store.Get(ctx, "Orders")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDynamoStore_RevisionSurvivesRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeItemClient()
	store := NewDynamoStore(client, "dynomizer-state")

	require.NoError(t, store.Put(ctx, Record{Table: "Orders", Version: 1, Status: StatusIdle, Revision: 3}, 0))

	raw := client.items["Orders"]["revision"].(*types.AttributeValueMemberN).Value
	n, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
