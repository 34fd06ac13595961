// Package mockadmin is an in-memory fake of the table-administration API
// for tests. Tables pass through CREATING/UPDATING and settle to ACTIVE
// after a configurable number of Describe calls, so polling paths are
// exercised without a live service.
package mockadmin

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kjschiroo/dynomizer/ddbadmin"
)

type fakeTable struct {
	desc types.TableDescription
	// settle is the number of Describe calls remaining until every
	// in-flight status flips to ACTIVE and deleting indexes disappear.
	settle int
}

// Client is an in-memory AWSDynamoAdminV2.
type Client struct {
	mu     sync.Mutex
	tables map[string]*fakeTable

	settleAfter  int
	throttleNext int
	failNext     error

	// Calls records every API call as "Method table" in order.
	Calls []string
}

var _ ddbadmin.AWSDynamoAdminV2 = &Client{}

func NewClient() *Client {
	return &Client{
		tables:      make(map[string]*fakeTable),
		settleAfter: 1,
	}
}

// SettleAfter sets how many Describe calls a table stays in an in-flight
// status after each structural change. Default 1.
func (c *Client) SettleAfter(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleAfter = n
}

// ThrottleNext makes the next n mutating calls fail with a throttling
// error.
func (c *Client) ThrottleNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttleNext = n
}

// FailNextWith makes the next mutating call fail with err.
func (c *Client) FailNextWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// TableNames returns the names of all live tables.
func (c *Client) TableNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

func (c *Client) record(method string, table *string) {
	c.Calls = append(c.Calls, fmt.Sprintf("%s %s", method, aws.ToString(table)))
}

// interceptMutation returns an injected error for the next mutating call,
// if one is queued.
func (c *Client) interceptMutation() error {
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return err
	}
	if c.throttleNext > 0 {
		c.throttleNext--
		return &types.ProvisionedThroughputExceededException{Message: aws.String("simulated throttle")}
	}
	return nil
}

func (c *Client) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("DescribeTable", params.TableName)

	t, ok := c.tables[aws.ToString(params.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	if t.settle > 0 {
		t.settle--
		if t.settle == 0 {
			settleTable(t)
		}
	}
	desc := copyDescription(t.desc)
	return &dynamodb.DescribeTableOutput{Table: &desc}, nil
}

func (c *Client) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("CreateTable", params.TableName)

	if err := c.interceptMutation(); err != nil {
		return nil, err
	}
	name := aws.ToString(params.TableName)
	if _, ok := c.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table already exists")}
	}

	desc := types.TableDescription{
		TableName:             params.TableName,
		TableStatus:           types.TableStatusCreating,
		KeySchema:             params.KeySchema,
		AttributeDefinitions:  params.AttributeDefinitions,
		ProvisionedThroughput: throughputDescription(params.ProvisionedThroughput),
		BillingModeSummary:    &types.BillingModeSummary{BillingMode: params.BillingMode},
	}
	for _, gsi := range params.GlobalSecondaryIndexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName:             gsi.IndexName,
			IndexStatus:           types.IndexStatusCreating,
			KeySchema:             gsi.KeySchema,
			Projection:            gsi.Projection,
			ProvisionedThroughput: throughputDescription(gsi.ProvisionedThroughput),
		})
	}
	c.tables[name] = &fakeTable{desc: desc, settle: c.settleAfter}

	out := copyDescription(desc)
	return &dynamodb.CreateTableOutput{TableDescription: &out}, nil
}

func (c *Client) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("UpdateTable", params.TableName)

	if err := c.interceptMutation(); err != nil {
		return nil, err
	}
	name := aws.ToString(params.TableName)
	t, ok := c.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	if t.desc.TableStatus != types.TableStatusActive && t.settle > 0 {
		return nil, &types.ResourceInUseException{Message: aws.String("structural change in flight")}
	}

	for _, attr := range params.AttributeDefinitions {
		t.desc.AttributeDefinitions = upsertAttribute(t.desc.AttributeDefinitions, attr)
	}
	for _, upd := range params.GlobalSecondaryIndexUpdates {
		switch {
		case upd.Create != nil:
			idxName := aws.ToString(upd.Create.IndexName)
			if findIndex(&t.desc, idxName) != nil {
				return nil, &types.ResourceInUseException{Message: aws.String("index already exists")}
			}
			t.desc.GlobalSecondaryIndexes = append(t.desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
				IndexName:             upd.Create.IndexName,
				IndexStatus:           types.IndexStatusCreating,
				KeySchema:             upd.Create.KeySchema,
				Projection:            upd.Create.Projection,
				ProvisionedThroughput: throughputDescription(upd.Create.ProvisionedThroughput),
			})
		case upd.Delete != nil:
			idxName := aws.ToString(upd.Delete.IndexName)
			idx := findIndex(&t.desc, idxName)
			if idx == nil {
				return nil, &types.ResourceNotFoundException{Message: aws.String("index not found")}
			}
			idx.IndexStatus = types.IndexStatusDeleting
		}
	}
	if params.BillingMode != "" {
		t.desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: params.BillingMode}
	}
	if params.ProvisionedThroughput != nil {
		t.desc.ProvisionedThroughput = throughputDescription(params.ProvisionedThroughput)
	}

	t.desc.TableStatus = types.TableStatusUpdating
	t.settle = c.settleAfter

	out := copyDescription(t.desc)
	return &dynamodb.UpdateTableOutput{TableDescription: &out}, nil
}

func (c *Client) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("DeleteTable", params.TableName)

	if err := c.interceptMutation(); err != nil {
		return nil, err
	}
	name := aws.ToString(params.TableName)
	t, ok := c.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	delete(c.tables, name)

	out := copyDescription(t.desc)
	out.TableStatus = types.TableStatusDeleting
	return &dynamodb.DeleteTableOutput{TableDescription: &out}, nil
}

func settleTable(t *fakeTable) {
	t.desc.TableStatus = types.TableStatusActive
	kept := t.desc.GlobalSecondaryIndexes[:0]
	for _, idx := range t.desc.GlobalSecondaryIndexes {
		if idx.IndexStatus == types.IndexStatusDeleting {
			continue
		}
		idx.IndexStatus = types.IndexStatusActive
		kept = append(kept, idx)
	}
	t.desc.GlobalSecondaryIndexes = kept
}

func findIndex(desc *types.TableDescription, name string) *types.GlobalSecondaryIndexDescription {
	for i, idx := range desc.GlobalSecondaryIndexes {
		if aws.ToString(idx.IndexName) == name {
			return &desc.GlobalSecondaryIndexes[i]
		}
	}
	return nil
}

func upsertAttribute(defs []types.AttributeDefinition, attr types.AttributeDefinition) []types.AttributeDefinition {
	for i, d := range defs {
		if aws.ToString(d.AttributeName) == aws.ToString(attr.AttributeName) {
			defs[i] = attr
			return defs
		}
	}
	return append(defs, attr)
}

func throughputDescription(t *types.ProvisionedThroughput) *types.ProvisionedThroughputDescription {
	if t == nil {
		return nil
	}
	return &types.ProvisionedThroughputDescription{
		ReadCapacityUnits:  t.ReadCapacityUnits,
		WriteCapacityUnits: t.WriteCapacityUnits,
	}
}

func copyDescription(desc types.TableDescription) types.TableDescription {
	out := desc
	out.GlobalSecondaryIndexes = append([]types.GlobalSecondaryIndexDescription(nil), desc.GlobalSecondaryIndexes...)
	out.AttributeDefinitions = append([]types.AttributeDefinition(nil), desc.AttributeDefinitions...)
	out.KeySchema = append([]types.KeySchemaElement(nil), desc.KeySchema...)
	return out
}
