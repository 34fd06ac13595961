package ddbadmin

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kjschiroo/dynomizer/schema"
)

// Stable reports whether no structural change is in flight: the table is
// ACTIVE and so is every secondary index.
func Stable(desc *types.TableDescription) bool {
	if desc == nil || desc.TableStatus != types.TableStatusActive {
		return false
	}
	for _, idx := range desc.GlobalSecondaryIndexes {
		if idx.IndexStatus != types.IndexStatusActive {
			return false
		}
	}
	return true
}

// HasIndex reports whether the description carries a secondary index with
// the given name, regardless of its status.
func HasIndex(desc *types.TableDescription, name string) bool {
	return findIndex(desc, name) != nil
}

// IndexKeysMatch reports whether the named live index has exactly the key
// schema of the model's index definition.
func IndexKeysMatch(desc *types.TableDescription, name string, gsi schema.GSI) bool {
	idx := findIndex(desc, name)
	if idx == nil {
		return false
	}
	want := [][2]string{{gsi.PartitionKey.Name, "HASH"}}
	if gsi.SortKey != nil {
		want = append(want, [2]string{gsi.SortKey.Name, "RANGE"})
	}
	if len(idx.KeySchema) != len(want) {
		return false
	}
	for i, ks := range idx.KeySchema {
		if aws.ToString(ks.AttributeName) != want[i][0] || string(ks.KeyType) != want[i][1] {
			return false
		}
	}
	return true
}

// TableKeysMatch reports whether the live table has exactly the model's
// primary key schema, attribute kinds included.
func TableKeysMatch(desc *types.TableDescription, m schema.TableModel) bool {
	if desc == nil {
		return false
	}
	keys := []schema.KeyDef{m.PartitionKey}
	kinds := []types.KeyType{types.KeyTypeHash}
	if m.SortKey != nil {
		keys = append(keys, *m.SortKey)
		kinds = append(kinds, types.KeyTypeRange)
	}
	if len(desc.KeySchema) != len(keys) {
		return false
	}
	for i, ks := range desc.KeySchema {
		if aws.ToString(ks.AttributeName) != keys[i].Name || ks.KeyType != kinds[i] {
			return false
		}
		if !attributeKindMatches(desc, keys[i]) {
			return false
		}
	}
	return true
}

func attributeKindMatches(desc *types.TableDescription, key schema.KeyDef) bool {
	for _, def := range desc.AttributeDefinitions {
		if aws.ToString(def.AttributeName) == key.Name {
			return def.AttributeType == key.Kind.ScalarAttributeType()
		}
	}
	return false
}

// ThroughputMatches reports whether the live table's provisioned capacity
// equals the given settings.
func ThroughputMatches(desc *types.TableDescription, billing schema.BillingMode, throughput *schema.Throughput) bool {
	if desc == nil {
		return false
	}
	if billing == schema.BillingPayPerRequest {
		return desc.BillingModeSummary != nil &&
			desc.BillingModeSummary.BillingMode == types.BillingModePayPerRequest
	}
	if throughput == nil || desc.ProvisionedThroughput == nil {
		return false
	}
	return aws.ToInt64(desc.ProvisionedThroughput.ReadCapacityUnits) == throughput.ReadUnits &&
		aws.ToInt64(desc.ProvisionedThroughput.WriteCapacityUnits) == throughput.WriteUnits
}

func findIndex(desc *types.TableDescription, name string) *types.GlobalSecondaryIndexDescription {
	if desc == nil {
		return nil
	}
	for i, idx := range desc.GlobalSecondaryIndexes {
		if aws.ToString(idx.IndexName) == name {
			return &desc.GlobalSecondaryIndexes[i]
		}
	}
	return nil
}
