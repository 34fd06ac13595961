// Package diff computes the ordered structural changes between two
// consecutive table-model versions. Operations are the unit of execution
// and of retry; each carries only the data needed for that one change.
package diff

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/kjschiroo/dynomizer/schema"
)

// MaxGSIsPerTable is the provider's default quota for secondary indexes on
// one table. The differ orders removals before additions only when
// additions-first would exceed it mid-transition.
const MaxGSIsPerTable = 20

// IncompatibleChangeError reports a model transition the provider cannot
// perform in place, e.g. changing the partition key. Such transitions must
// be expressed as an explicit table replacement across two versions.
type IncompatibleChangeError struct {
	Table  string
	Reason string
}

func (e *IncompatibleChangeError) Error() string {
	return fmt.Sprintf("incompatible change for table %s: %s", e.Table, e.Reason)
}

// Operation is one structural change to apply against a live table.
type Operation interface {
	// Describe returns a short human-readable label for logs and errors.
	Describe() string

	isOperation()
}

// CreateTable creates the table with the full model definition, indexes
// included. Emitted instead of incremental operations when no previous
// version exists.
type CreateTable struct {
	Model schema.TableModel
}

func (o CreateTable) Describe() string { return fmt.Sprintf("create table %s", o.Model.Name) }

// DeleteTable drops the table. Emitted for a version marked deleted.
type DeleteTable struct {
	Table string
}

func (o DeleteTable) Describe() string { return fmt.Sprintf("delete table %s", o.Table) }

// AddGSI creates a new secondary index. Billing and TableThroughput come
// from the target model: a provisioned index without its own throughput
// inherits the table's.
type AddGSI struct {
	Name            string
	Index           schema.GSI
	Billing         schema.BillingMode
	TableThroughput *schema.Throughput
}

func (o AddGSI) Describe() string { return fmt.Sprintf("add index %s", o.Name) }

// RemoveGSI drops a secondary index.
type RemoveGSI struct {
	Name string
}

func (o RemoveGSI) Describe() string { return fmt.Sprintf("remove index %s", o.Name) }

// UpdateThroughput changes the table's billing mode or provisioned
// capacity.
type UpdateThroughput struct {
	Billing    schema.BillingMode
	Throughput *schema.Throughput
}

func (o UpdateThroughput) Describe() string { return "update throughput" }

// AddAttribute declares a key attribute required by a following operation.
// It is always emitted immediately before the operation that references it;
// the executor folds it into that operation's request.
type AddAttribute struct {
	Attr schema.KeyDef
}

func (o AddAttribute) Describe() string { return fmt.Sprintf("add attribute %s", o.Attr.Name) }

func (CreateTable) isOperation()      {}
func (DeleteTable) isOperation()      {}
func (AddGSI) isOperation()           {}
func (RemoveGSI) isOperation()        {}
func (UpdateThroughput) isOperation() {}
func (AddAttribute) isOperation()     {}

// Diff computes the ordered operations transitioning a table from prev to
// next. A nil prev (or a prev marked deleted) means the table does not
// exist and yields a single CreateTable. Diffing a model against itself
// yields no operations.
func Diff(prev *schema.TableModel, next schema.TableModel) ([]Operation, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if next.Deleted {
		if prev == nil || prev.Deleted {
			return nil, nil
		}
		return []Operation{DeleteTable{Table: next.Name}}, nil
	}
	if prev == nil || prev.Deleted {
		return []Operation{CreateTable{Model: next}}, nil
	}

	if prev.Name != next.Name {
		return nil, &IncompatibleChangeError{Table: prev.Name, Reason: fmt.Sprintf("table renamed to %s", next.Name)}
	}
	if !prev.KeySchemaEqual(next) {
		return nil, &IncompatibleChangeError{
			Table:  next.Name,
			Reason: "primary key schema changed; express as an explicit table replacement across two versions",
		}
	}

	var removals, additions []Operation
	var pureAdds int
	defined := definedAttributes(*prev)

	// Deterministic order over the union of index names.
	names := maps.Keys(prev.GSIs)
	for _, name := range maps.Keys(next.GSIs) {
		if _, ok := prev.GSIs[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		before, inPrev := prev.GSIs[name]
		after, inNext := next.GSIs[name]
		switch {
		case inPrev && !inNext:
			removals = append(removals, RemoveGSI{Name: name})
		case !inPrev && inNext:
			additions = append(additions, addWithAttributes(name, after, next, defined)...)
			pureAdds++
		case !before.KeysEqual(after):
			// Never an in-place key change: drop and recreate under the
			// same name, remove strictly before add.
			additions = append(additions, RemoveGSI{Name: name})
			additions = append(additions, addWithAttributes(name, after, next, defined)...)
		}
	}

	// Additions go first unless that would exceed the index quota while
	// the removals are still live. Rekeyed indexes never raise the peak:
	// their remove precedes their add within the pair.
	ops := make([]Operation, 0, len(additions)+len(removals)+1)
	if len(prev.GSIs)+pureAdds > MaxGSIsPerTable {
		ops = append(ops, removals...)
		ops = append(ops, additions...)
	} else {
		ops = append(ops, additions...)
		ops = append(ops, removals...)
	}

	if op, changed := throughputChange(*prev, next); changed {
		ops = append(ops, op)
	}
	return ops, nil
}

// addWithAttributes emits the AddGSI for an index, preceded by
// AddAttribute operations for any key attribute not yet defined on the
// table.
func addWithAttributes(name string, index schema.GSI, next schema.TableModel, defined map[string]schema.KeyKind) []Operation {
	var ops []Operation
	for _, attr := range index.KeyAttributes() {
		if kind, ok := defined[attr.Name]; ok && kind == attr.Kind {
			continue
		}
		ops = append(ops, AddAttribute{Attr: attr})
		defined[attr.Name] = attr.Kind
	}
	return append(ops, AddGSI{
		Name:            name,
		Index:           index,
		Billing:         next.BillingOrDefault(),
		TableThroughput: next.Throughput,
	})
}

// definedAttributes collects the attribute definitions already present on
// the table: primary key plus every live index key.
func definedAttributes(m schema.TableModel) map[string]schema.KeyKind {
	defined := map[string]schema.KeyKind{m.PartitionKey.Name: m.PartitionKey.Kind}
	if m.SortKey != nil {
		defined[m.SortKey.Name] = m.SortKey.Kind
	}
	for _, gsi := range m.GSIs {
		for _, attr := range gsi.KeyAttributes() {
			defined[attr.Name] = attr.Kind
		}
	}
	return defined
}

func throughputChange(prev, next schema.TableModel) (UpdateThroughput, bool) {
	prevBilling := prev.BillingOrDefault()
	nextBilling := next.BillingOrDefault()
	if prevBilling != nextBilling {
		return UpdateThroughput{Billing: nextBilling, Throughput: next.Throughput}, true
	}
	if nextBilling != schema.BillingProvisioned {
		return UpdateThroughput{}, false
	}
	if prev.Throughput == nil || next.Throughput == nil {
		return UpdateThroughput{}, false
	}
	if *prev.Throughput == *next.Throughput {
		return UpdateThroughput{}, false
	}
	return UpdateThroughput{Billing: nextBilling, Throughput: next.Throughput}, true
}
