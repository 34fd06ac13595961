// Package state persists which model version each table is currently at.
// The migration-state record is the single source of truth for "what
// version is this table actually at" and is only ever mutated through
// conditional writes, so concurrent migration attempts on the same table
// serialize instead of racing.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle flag on a migration-state record.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in-progress"
	StatusFailed     Status = "failed"
)

// Record is the persisted migration state for one table.
//
// Version is the last fully-applied model version. Revision increments on
// every write and backs the optimistic-concurrency protocol. LastError
// holds the cause of the most recent abort, for operators.
type Record struct {
	Table     string
	Version   int64
	Status    Status
	Revision  int64
	Updated   time.Time
	LastError string
}

// ErrRevisionMismatch is returned by a Store when the conditional write
// precondition did not hold: the record changed underneath the caller.
var ErrRevisionMismatch = errors.New("state record revision mismatch")

// Store is the key-value substrate holding migration-state records. The
// tracker is agnostic to whether this is the managed table service itself
// or a separate store.
type Store interface {
	// Get returns the record for a table, reporting whether it exists.
	Get(ctx context.Context, table string) (Record, bool, error)
	// Put writes the record if the stored revision matches
	// expectedRevision. Zero means the record must not exist yet.
	// Returns ErrRevisionMismatch when the precondition fails.
	Put(ctx context.Context, rec Record, expectedRevision int64) error
	// Delete removes the record unconditionally. Administrative use only.
	Delete(ctx context.Context, table string) error
}

// ConcurrentMigrationError reports that another migration of the same
// table is already in progress. Retry later, not immediately.
type ConcurrentMigrationError struct {
	Table string
}

func (e *ConcurrentMigrationError) Error() string {
	return fmt.Sprintf("migration already in progress for table %s", e.Table)
}

// StaleStateError reports that the persisted record no longer matches what
// this migration run last observed: another process progressed or reset it.
type StaleStateError struct {
	Table           string
	Expected, Found int64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale migration state for table %s: expected version %d, found %d", e.Table, e.Expected, e.Found)
}

// Token is the handle for one in-progress migration, carrying the expected
// revision for every subsequent conditional update.
type Token struct {
	table    string
	target   int64
	version  int64
	revision int64
}

// Version returns the last version recorded through this token.
func (t *Token) Version() int64 { return t.version }

// Tracker implements the migration-state protocol over a Store.
type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// CurrentVersion returns the table's last fully-applied version. ok is
// false when the table has never been migrated.
func (t *Tracker) CurrentVersion(ctx context.Context, table string) (version int64, ok bool, err error) {
	rec, found, err := t.store.Get(ctx, table)
	if err != nil {
		return 0, false, fmt.Errorf("reading migration state for %s: %w", table, err)
	}
	if !found {
		return 0, false, nil
	}
	return rec.Version, true, nil
}

// Status returns the full migration-state record for a table. ok is false
// when the table has never been migrated.
func (t *Tracker) Status(ctx context.Context, table string) (Record, bool, error) {
	rec, found, err := t.store.Get(ctx, table)
	if err != nil {
		return Record{}, false, fmt.Errorf("reading migration state for %s: %w", table, err)
	}
	return rec, found, nil
}

// Begin claims the table for a migration from version `from` to `to`.
// Fails with ConcurrentMigrationError when another run holds the claim,
// and with StaleStateError when the recorded version is not `from`.
func (t *Tracker) Begin(ctx context.Context, table string, from, to int64) (*Token, error) {
	rec, found, err := t.store.Get(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("reading migration state for %s: %w", table, err)
	}
	var expected int64
	if found {
		if rec.Status == StatusInProgress {
			return nil, &ConcurrentMigrationError{Table: table}
		}
		if rec.Version != from {
			return nil, &StaleStateError{Table: table, Expected: from, Found: rec.Version}
		}
		expected = rec.Revision
	} else if from != 0 {
		return nil, &StaleStateError{Table: table, Expected: from, Found: 0}
	}

	next := Record{
		Table:    table,
		Version:  from,
		Status:   StatusInProgress,
		Revision: expected + 1,
		Updated:  t.now(),
	}
	if err := t.store.Put(ctx, next, expected); err != nil {
		if errors.Is(err, ErrRevisionMismatch) {
			// Another run claimed the table between our read and write.
			return nil, &ConcurrentMigrationError{Table: table}
		}
		return nil, fmt.Errorf("claiming migration state for %s: %w", table, err)
	}
	return &Token{table: table, target: to, version: from, revision: next.Revision}, nil
}

// RecordStep advances the persisted version after a step has been fully
// verified, conditioned on the token's expected revision.
func (t *Tracker) RecordStep(ctx context.Context, token *Token, version int64) error {
	return t.update(ctx, token, version, StatusInProgress, "")
}

// Complete releases the claim, leaving the record idle at the token's
// final version.
func (t *Tracker) Complete(ctx context.Context, token *Token) error {
	return t.update(ctx, token, token.version, StatusIdle, "")
}

// Abort marks the migration failed, preserving the last successfully
// recorded version so a retry resumes from there rather than restarting.
func (t *Tracker) Abort(ctx context.Context, token *Token, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.update(ctx, token, token.version, StatusFailed, msg)
}

// Reset deletes the table's migration-state record so the table reads as
// never migrated. Administrative escape hatch; not used by migrations.
func (t *Tracker) Reset(ctx context.Context, table string) error {
	if err := t.store.Delete(ctx, table); err != nil {
		return fmt.Errorf("resetting migration state for %s: %w", table, err)
	}
	return nil
}

func (t *Tracker) update(ctx context.Context, token *Token, version int64, status Status, lastError string) error {
	next := Record{
		Table:     token.table,
		Version:   version,
		Status:    status,
		Revision:  token.revision + 1,
		Updated:   t.now(),
		LastError: lastError,
	}
	if err := t.store.Put(ctx, next, token.revision); err != nil {
		if errors.Is(err, ErrRevisionMismatch) {
			rec, found, getErr := t.store.Get(ctx, token.table)
			found = found && getErr == nil
			stale := &StaleStateError{Table: token.table, Expected: token.version}
			if found {
				stale.Found = rec.Version
			}
			return stale
		}
		return fmt.Errorf("updating migration state for %s: %w", token.table, err)
	}
	token.revision = next.Revision
	token.version = version
	return nil
}
