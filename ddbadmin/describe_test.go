package ddbadmin

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/kjschiroo/dynomizer/schema"
)

func activeTable() *types.TableDescription {
	return &types.TableDescription{
		TableName:   aws.String("Orders"),
		TableStatus: types.TableStatusActive,
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{
			{
				IndexName:   aws.String("byCustomer"),
				IndexStatus: types.IndexStatusActive,
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("customerId"), KeyType: types.KeyTypeHash},
				},
			},
		},
	}
}

func TestStable(t *testing.T) {
	require.False(t, Stable(nil))

	desc := activeTable()
	require.True(t, Stable(desc))

	desc.TableStatus = types.TableStatusUpdating
	require.False(t, Stable(desc))

	desc = activeTable()
	desc.GlobalSecondaryIndexes[0].IndexStatus = types.IndexStatusCreating
	require.False(t, Stable(desc))
}

func TestHasIndex(t *testing.T) {
	desc := activeTable()
	require.True(t, HasIndex(desc, "byCustomer"))
	require.False(t, HasIndex(desc, "byStatus"))
	require.False(t, HasIndex(nil, "byCustomer"))

	// Status does not matter, existence does.
	desc.GlobalSecondaryIndexes[0].IndexStatus = types.IndexStatusDeleting
	require.True(t, HasIndex(desc, "byCustomer"))
}

func TestIndexKeysMatch(t *testing.T) {
	desc := activeTable()
	hashOnly := schema.GSI{PartitionKey: schema.KeyDef{Name: "customerId", Kind: schema.KeyKindS}}
	require.True(t, IndexKeysMatch(desc, "byCustomer", hashOnly))
	require.False(t, IndexKeysMatch(desc, "byStatus", hashOnly))
	require.False(t, IndexKeysMatch(nil, "byCustomer", hashOnly))

	withSort := hashOnly
	withSort.SortKey = &schema.KeyDef{Name: "createdAt", Kind: schema.KeyKindS}
	require.False(t, IndexKeysMatch(desc, "byCustomer", withSort))

	desc.GlobalSecondaryIndexes[0].KeySchema = append(desc.GlobalSecondaryIndexes[0].KeySchema,
		types.KeySchemaElement{AttributeName: aws.String("createdAt"), KeyType: types.KeyTypeRange})
	require.True(t, IndexKeysMatch(desc, "byCustomer", withSort))
	require.False(t, IndexKeysMatch(desc, "byCustomer", hashOnly))
}

func TestTableKeysMatch(t *testing.T) {
	desc := &types.TableDescription{
		TableName:   aws.String("Orders"),
		TableStatus: types.TableStatusActive,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("orderId"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("orderId"), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	hashOnly := schema.TableModel{
		Name:         "Orders",
		Version:      1,
		PartitionKey: schema.KeyDef{Name: "orderId", Kind: schema.KeyKindS},
	}

	require.True(t, TableKeysMatch(desc, hashOnly))
	require.False(t, TableKeysMatch(nil, hashOnly))

	otherName := hashOnly
	otherName.PartitionKey.Name = "orderNumber"
	require.False(t, TableKeysMatch(desc, otherName))

	otherKind := hashOnly
	otherKind.PartitionKey.Kind = schema.KeyKindN
	require.False(t, TableKeysMatch(desc, otherKind), "attribute kind is part of the key identity")

	withSort := hashOnly
	withSort.SortKey = &schema.KeyDef{Name: "createdAt", Kind: schema.KeyKindS}
	require.False(t, TableKeysMatch(desc, withSort))

	desc.KeySchema = append(desc.KeySchema,
		types.KeySchemaElement{AttributeName: aws.String("createdAt"), KeyType: types.KeyTypeRange})
	desc.AttributeDefinitions = append(desc.AttributeDefinitions,
		types.AttributeDefinition{AttributeName: aws.String("createdAt"), AttributeType: types.ScalarAttributeTypeS})
	require.True(t, TableKeysMatch(desc, withSort))
	require.False(t, TableKeysMatch(desc, hashOnly))
}

func TestThroughputMatches(t *testing.T) {
	desc := activeTable()
	desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: types.BillingModePayPerRequest}
	require.True(t, ThroughputMatches(desc, schema.BillingPayPerRequest, nil))
	require.False(t, ThroughputMatches(desc, schema.BillingProvisioned, &schema.Throughput{ReadUnits: 5, WriteUnits: 2}))

	desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: types.BillingModeProvisioned}
	desc.ProvisionedThroughput = &types.ProvisionedThroughputDescription{
		ReadCapacityUnits:  aws.Int64(5),
		WriteCapacityUnits: aws.Int64(2),
	}
	require.True(t, ThroughputMatches(desc, schema.BillingProvisioned, &schema.Throughput{ReadUnits: 5, WriteUnits: 2}))
	require.False(t, ThroughputMatches(desc, schema.BillingProvisioned, &schema.Throughput{ReadUnits: 10, WriteUnits: 2}))
	require.False(t, ThroughputMatches(desc, schema.BillingPayPerRequest, nil))
	require.False(t, ThroughputMatches(nil, schema.BillingProvisioned, &schema.Throughput{ReadUnits: 5, WriteUnits: 2}))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(&types.ResourceNotFoundException{}))
	require.False(t, IsNotFound(&types.ResourceInUseException{}))
	require.False(t, IsNotFound(nil))
}

func TestIsThrottled(t *testing.T) {
	require.True(t, IsThrottled(&types.ProvisionedThroughputExceededException{}))
	require.True(t, IsThrottled(&types.LimitExceededException{}))
	require.True(t, IsThrottled(&smithy.GenericAPIError{Code: "ThrottlingException"}))
	require.True(t, IsThrottled(&smithy.GenericAPIError{Code: "RequestLimitExceeded"}))
	require.False(t, IsThrottled(&types.ResourceInUseException{}))
	require.False(t, IsThrottled(nil))
}
