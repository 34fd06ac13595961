// Package schema defines the versioned table-model types consumed by the
// differ and planner. A TableModel is an immutable description of a table's
// shape at one version: keys, secondary indexes, and billing/throughput.
package schema

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyKind is the scalar attribute type of a key attribute.
type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

func (k KeyKind) valid() bool {
	switch k {
	case KeyKindS, KeyKindN, KeyKindB:
		return true
	}
	return false
}

// ScalarAttributeType converts to the SDK attribute type.
func (k KeyKind) ScalarAttributeType() types.ScalarAttributeType {
	return types.ScalarAttributeType(k)
}

// KeyDef describes a key attribute definition.
type KeyDef struct {
	Name string  `yaml:"name"`
	Kind KeyKind `yaml:"kind"`
}

// BillingMode selects how table capacity is billed.
type BillingMode string

const (
	BillingProvisioned   BillingMode = "PROVISIONED"
	BillingPayPerRequest BillingMode = "PAY_PER_REQUEST"
)

// Throughput holds provisioned capacity settings.
type Throughput struct {
	ReadUnits  int64 `yaml:"readUnits"`
	WriteUnits int64 `yaml:"writeUnits"`
}

// ProjectionType selects which attributes a secondary index projects.
type ProjectionType string

const (
	ProjectAll      ProjectionType = "ALL"
	ProjectKeysOnly ProjectionType = "KEYS_ONLY"
)

// GSI describes a Global Secondary Index. The index name is the key of the
// TableModel.GSIs map, which makes name uniqueness structural.
type GSI struct {
	PartitionKey KeyDef         `yaml:"partitionKey"`
	SortKey      *KeyDef        `yaml:"sortKey,omitempty"`
	Projection   ProjectionType `yaml:"projection,omitempty"`
	Throughput   *Throughput    `yaml:"throughput,omitempty"`
}

// KeysEqual reports whether two index definitions share the same key schema.
func (g GSI) KeysEqual(other GSI) bool {
	if g.PartitionKey != other.PartitionKey {
		return false
	}
	if (g.SortKey == nil) != (other.SortKey == nil) {
		return false
	}
	if g.SortKey != nil && *g.SortKey != *other.SortKey {
		return false
	}
	return true
}

// KeyAttributes returns the attribute definitions referenced by the index
// key schema, partition key first.
func (g GSI) KeyAttributes() []KeyDef {
	attrs := []KeyDef{g.PartitionKey}
	if g.SortKey != nil {
		attrs = append(attrs, *g.SortKey)
	}
	return attrs
}

// TableModel describes a table's shape at one version.
//
// Within a table's history, versions are strictly increasing. A model with
// Deleted set describes an explicit table drop; the next version in the
// history may recreate the table with a different key schema (the only
// supported way to express a key change).
type TableModel struct {
	Name         string         `yaml:"name"`
	Version      int64          `yaml:"version"`
	PartitionKey KeyDef         `yaml:"partitionKey"`
	SortKey      *KeyDef        `yaml:"sortKey,omitempty"`
	GSIs         map[string]GSI `yaml:"gsis,omitempty"`
	Billing      BillingMode    `yaml:"billing,omitempty"`
	Throughput   *Throughput    `yaml:"throughput,omitempty"`
	Deleted      bool           `yaml:"deleted,omitempty"`
}

// KeySchemaEqual reports whether two models have identical primary keys.
func (m TableModel) KeySchemaEqual(other TableModel) bool {
	if m.PartitionKey != other.PartitionKey {
		return false
	}
	if (m.SortKey == nil) != (other.SortKey == nil) {
		return false
	}
	if m.SortKey != nil && *m.SortKey != *other.SortKey {
		return false
	}
	return true
}

// BillingOrDefault returns the model's billing mode, defaulting to
// provisioned when unset (the provider's own default).
func (m TableModel) BillingOrDefault() BillingMode {
	if m.Billing == "" {
		return BillingProvisioned
	}
	return m.Billing
}

// Validate checks the model's internal invariants.
func (m TableModel) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if m.Version <= 0 {
		return fmt.Errorf("table %s: version must be positive, got %d", m.Name, m.Version)
	}
	if m.Deleted {
		return nil
	}
	if m.PartitionKey.Name == "" {
		return fmt.Errorf("table %s: partition key is required", m.Name)
	}
	if !m.PartitionKey.Kind.valid() {
		return fmt.Errorf("table %s: invalid partition key kind %q", m.Name, m.PartitionKey.Kind)
	}
	if m.SortKey != nil && !m.SortKey.Kind.valid() {
		return fmt.Errorf("table %s: invalid sort key kind %q", m.Name, m.SortKey.Kind)
	}
	for name, gsi := range m.GSIs {
		if name == "" {
			return fmt.Errorf("table %s: index name is required", m.Name)
		}
		if gsi.PartitionKey.Name == "" {
			return fmt.Errorf("table %s: index %s: partition key is required", m.Name, name)
		}
		if !gsi.PartitionKey.Kind.valid() {
			return fmt.Errorf("table %s: index %s: invalid partition key kind %q", m.Name, name, gsi.PartitionKey.Kind)
		}
		if gsi.SortKey != nil && !gsi.SortKey.Kind.valid() {
			return fmt.Errorf("table %s: index %s: invalid sort key kind %q", m.Name, name, gsi.SortKey.Kind)
		}
	}
	if m.BillingOrDefault() == BillingProvisioned && m.Throughput == nil {
		return fmt.Errorf("table %s: provisioned billing requires throughput settings", m.Name)
	}
	return nil
}
