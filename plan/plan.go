// Package plan assembles the ordered migration plan that transitions a
// table from its current recorded version to a target version.
package plan

import (
	"fmt"

	"github.com/kjschiroo/dynomizer/diff"
	"github.com/kjschiroo/dynomizer/schema"
)

// NoPathError reports that a requested version is not present in the model
// history, so no migration path exists.
type NoPathError struct {
	Table   string
	Version int64
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no model version %d in history for table %s", e.Version, e.Table)
}

// InvalidDirectionError reports a request to migrate backwards or to the
// version the table is already at.
type InvalidDirectionError struct {
	Table    string
	From, To int64
}

func (e *InvalidDirectionError) Error() string {
	return fmt.Sprintf("table %s: target version %d must be greater than current version %d", e.Table, e.To, e.From)
}

// Step holds the operations that advance a table to one model version.
// The executor records the version with the state tracker only after every
// operation in the step has been verified.
type Step struct {
	Version int64
	Ops     []diff.Operation
}

// Plan is the ordered sequence of steps transitioning a table between two
// versions. From is zero when the table has never been migrated.
type Plan struct {
	Table    string
	From, To int64
	Steps    []Step
}

// Empty reports whether the plan contains no operations at all.
func (p Plan) Empty() bool {
	for _, s := range p.Steps {
		if len(s.Ops) > 0 {
			return false
		}
	}
	return true
}

// Operations flattens the plan's steps into one ordered operation list.
func (p Plan) Operations() []diff.Operation {
	var ops []diff.Operation
	for _, s := range p.Steps {
		ops = append(ops, s.Ops...)
	}
	return ops
}

// Build assembles the plan from current (exclusive) to target (inclusive)
// by diffing each adjacent model pair in version order. current == 0 means
// the table has never been migrated and the first in-range model is
// created from scratch.
//
// The provider's single-in-flight-structural-change constraint is enforced
// by the executor verifying each operation before submitting the next, not
// by reordering here.
func Build(models []schema.TableModel, current, target int64) (Plan, error) {
	if len(models) == 0 {
		return Plan{}, fmt.Errorf("model history is empty")
	}
	table := models[0].Name

	if target <= current {
		return Plan{}, &InvalidDirectionError{Table: table, From: current, To: target}
	}
	if !hasVersion(models, target) {
		return Plan{}, &NoPathError{Table: table, Version: target}
	}
	if current != 0 && !hasVersion(models, current) {
		return Plan{}, &NoPathError{Table: table, Version: current}
	}

	p := Plan{Table: table, From: current, To: target}
	var prev *schema.TableModel
	for i := range models {
		m := models[i]
		if m.Version <= current {
			prev = &models[i]
			continue
		}
		if m.Version > target {
			break
		}
		ops, err := diff.Diff(prev, m)
		if err != nil {
			return Plan{}, fmt.Errorf("diffing to version %d: %w", m.Version, err)
		}
		p.Steps = append(p.Steps, Step{Version: m.Version, Ops: ops})
		prev = &models[i]
	}
	return p, nil
}

func hasVersion(models []schema.TableModel, version int64) bool {
	for _, m := range models {
		if m.Version == version {
			return true
		}
	}
	return false
}
