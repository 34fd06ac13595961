package migrate

import (
	"context"
	"fmt"

	"github.com/kjschiroo/dynomizer/ddbadmin"
	"github.com/kjschiroo/dynomizer/plan"
	"github.com/kjschiroo/dynomizer/schema"
	"github.com/kjschiroo/dynomizer/state"
)

// Migrator is the caller-facing surface of the core: migrate table T to
// version V given model history H.
type Migrator struct {
	source  schema.ModelSource
	tracker *state.Tracker
	exec    *Executor
}

func NewMigrator(source schema.ModelSource, admin ddbadmin.AWSDynamoAdminV2, tracker *state.Tracker, opts ...Option) *Migrator {
	return &Migrator{
		source:  source,
		tracker: tracker,
		exec:    NewExecutor(admin, tracker, opts...),
	}
}

// Migrate brings the table to the target version, resuming from the last
// recorded version. Returns the final migration state, or a typed failure
// identifying the failing step. Migrating to the version the table is
// already at is a no-op.
func (m *Migrator) Migrate(ctx context.Context, table string, target int64) (state.Record, error) {
	models, err := m.source.List(ctx)
	if err != nil {
		return state.Record{}, fmt.Errorf("loading model history: %w", err)
	}
	if len(models) == 0 {
		return state.Record{}, fmt.Errorf("model history for table %s is empty", table)
	}
	if models[0].Name != table {
		return state.Record{}, fmt.Errorf("model history describes table %s, not %s", models[0].Name, table)
	}

	current, _, err := m.tracker.CurrentVersion(ctx, table)
	if err != nil {
		return state.Record{}, err
	}
	if current == target {
		rec, _, err := m.tracker.Status(ctx, table)
		return rec, err
	}

	p, err := plan.Build(models, current, target)
	if err != nil {
		return state.Record{}, err
	}
	return m.exec.Apply(ctx, p)
}

// Status returns the table's persisted migration state. ok is false when
// the table has never been migrated.
func (m *Migrator) Status(ctx context.Context, table string) (state.Record, bool, error) {
	return m.tracker.Status(ctx, table)
}

// Reset deletes the table's migration-state record. Administrative escape
// hatch: the next migration will treat the table as never migrated.
func (m *Migrator) Reset(ctx context.Context, table string) error {
	return m.tracker.Reset(ctx, table)
}
