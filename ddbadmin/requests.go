package ddbadmin

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/kjschiroo/dynomizer/schema"
)

// CreateTableInput builds the request creating a table with the full model
// definition, indexes included.
func CreateTableInput(m schema.TableModel) *dynamodb.CreateTableInput {
	in := &dynamodb.CreateTableInput{
		TableName:            aws.String(m.Name),
		KeySchema:            primaryKeySchema(m),
		AttributeDefinitions: attributeDefinitions(m),
		BillingMode:          billingMode(m.BillingOrDefault()),
	}
	if m.BillingOrDefault() == schema.BillingProvisioned {
		in.ProvisionedThroughput = provisionedThroughput(m.Throughput)
	}

	names := maps.Keys(m.GSIs)
	slices.Sort(names)
	for _, name := range names {
		gsi := m.GSIs[name]
		idx := types.GlobalSecondaryIndex{
			IndexName:  aws.String(name),
			KeySchema:  indexKeySchema(gsi),
			Projection: projection(gsi.Projection),
		}
		if m.BillingOrDefault() == schema.BillingProvisioned {
			idx.ProvisionedThroughput = provisionedThroughput(indexThroughput(gsi, m))
		}
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, idx)
	}
	return in
}

// AddGSIInput builds the update creating one secondary index. attrs are
// the attribute definitions the new key schema references; the service
// requires them on the same call.
func AddGSIInput(table, name string, gsi schema.GSI, billing schema.BillingMode, tableThroughput *schema.Throughput, attrs []schema.KeyDef) *dynamodb.UpdateTableInput {
	create := &types.CreateGlobalSecondaryIndexAction{
		IndexName:  aws.String(name),
		KeySchema:  indexKeySchema(gsi),
		Projection: projection(gsi.Projection),
	}
	if billing == schema.BillingProvisioned {
		throughput := gsi.Throughput
		if throughput == nil {
			throughput = tableThroughput
		}
		create.ProvisionedThroughput = provisionedThroughput(throughput)
	}
	in := &dynamodb.UpdateTableInput{
		TableName: aws.String(table),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{
			{Create: create},
		},
	}
	for _, attr := range attrs {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(attr.Name),
			AttributeType: attr.Kind.ScalarAttributeType(),
		})
	}
	return in
}

// RemoveGSIInput builds the update dropping one secondary index.
func RemoveGSIInput(table, name string) *dynamodb.UpdateTableInput {
	return &dynamodb.UpdateTableInput{
		TableName: aws.String(table),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{
			{Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(name)}},
		},
	}
}

// UpdateThroughputInput builds the update changing billing mode or
// provisioned capacity.
func UpdateThroughputInput(table string, billing schema.BillingMode, throughput *schema.Throughput) *dynamodb.UpdateTableInput {
	in := &dynamodb.UpdateTableInput{
		TableName:   aws.String(table),
		BillingMode: billingMode(billing),
	}
	if billing == schema.BillingProvisioned {
		in.ProvisionedThroughput = provisionedThroughput(throughput)
	}
	return in
}

func primaryKeySchema(m schema.TableModel) []types.KeySchemaElement {
	ks := []types.KeySchemaElement{{
		AttributeName: aws.String(m.PartitionKey.Name),
		KeyType:       types.KeyTypeHash,
	}}
	if m.SortKey != nil {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(m.SortKey.Name),
			KeyType:       types.KeyTypeRange,
		})
	}
	return ks
}

func indexKeySchema(gsi schema.GSI) []types.KeySchemaElement {
	ks := []types.KeySchemaElement{{
		AttributeName: aws.String(gsi.PartitionKey.Name),
		KeyType:       types.KeyTypeHash,
	}}
	if gsi.SortKey != nil {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(gsi.SortKey.Name),
			KeyType:       types.KeyTypeRange,
		})
	}
	return ks
}

// attributeDefinitions collects every key attribute the model references,
// deduplicated by name, in deterministic order.
func attributeDefinitions(m schema.TableModel) []types.AttributeDefinition {
	kinds := map[string]schema.KeyKind{m.PartitionKey.Name: m.PartitionKey.Kind}
	if m.SortKey != nil {
		kinds[m.SortKey.Name] = m.SortKey.Kind
	}
	for _, gsi := range m.GSIs {
		for _, attr := range gsi.KeyAttributes() {
			kinds[attr.Name] = attr.Kind
		}
	}

	names := maps.Keys(kinds)
	slices.Sort(names)
	defs := make([]types.AttributeDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: kinds[name].ScalarAttributeType(),
		})
	}
	return defs
}

func billingMode(b schema.BillingMode) types.BillingMode {
	if b == schema.BillingPayPerRequest {
		return types.BillingModePayPerRequest
	}
	return types.BillingModeProvisioned
}

func projection(p schema.ProjectionType) *types.Projection {
	switch p {
	case schema.ProjectKeysOnly:
		return &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly}
	default:
		return &types.Projection{ProjectionType: types.ProjectionTypeAll}
	}
}

func provisionedThroughput(t *schema.Throughput) *types.ProvisionedThroughput {
	if t == nil {
		return nil
	}
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(t.ReadUnits),
		WriteCapacityUnits: aws.Int64(t.WriteUnits),
	}
}

func indexThroughput(gsi schema.GSI, m schema.TableModel) *schema.Throughput {
	if gsi.Throughput != nil {
		return gsi.Throughput
	}
	return m.Throughput
}
