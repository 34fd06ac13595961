// Package migrate applies migration plans against a live table: one
// structural change at a time, polling for a stable status between
// changes, retrying throttles with backoff, and recording progress with
// the state tracker only after each step is verified.
package migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kjschiroo/dynomizer/ddbadmin"
	"github.com/kjschiroo/dynomizer/diff"
	"github.com/kjschiroo/dynomizer/plan"
	"github.com/kjschiroo/dynomizer/schema"
	"github.com/kjschiroo/dynomizer/state"
)

// ThrottledError is surfaced when the per-operation retry budget is
// exhausted by throttling. Retryable: the plan is fine, try again later.
type ThrottledError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("operation %q throttled after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// ExecutionError identifies exactly which operation failed. Fatal for this
// run; the partially-applied state is preserved for resume.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type execOpts struct {
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxRetries   int
	backoff      BackoffFunc
	logger       *slog.Logger
}

// Option configures an Executor.
type Option func(*execOpts)

// WithPollInterval sets the delay between status polls. Default 3s.
func WithPollInterval(d time.Duration) Option {
	return func(o *execOpts) { o.pollInterval = d }
}

// WithPollTimeout bounds how long one operation may stay unstable before
// the run aborts. Default 15m.
func WithPollTimeout(d time.Duration) Option {
	return func(o *execOpts) { o.pollTimeout = d }
}

// WithMaxRetries sets the throttling retry budget per operation.
// Default 8.
func WithMaxRetries(n int) Option {
	return func(o *execOpts) { o.maxRetries = n }
}

// WithBackoff sets a custom backoff function for throttle retries.
func WithBackoff(fn BackoffFunc) Option {
	return func(o *execOpts) { o.backoff = fn }
}

// WithLogger sets a structured logger for step progress.
func WithLogger(l *slog.Logger) Option {
	return func(o *execOpts) { o.logger = l }
}

// Executor applies plans through the administration client.
type Executor struct {
	admin   ddbadmin.AWSDynamoAdminV2
	tracker *state.Tracker
	opts    execOpts
}

func NewExecutor(admin ddbadmin.AWSDynamoAdminV2, tracker *state.Tracker, opts ...Option) *Executor {
	e := &Executor{admin: admin, tracker: tracker}
	e.opts = execOpts{
		pollInterval: 3 * time.Second,
		pollTimeout:  15 * time.Minute,
		maxRetries:   8,
		backoff:      DefaultBackoff,
	}
	for _, opt := range opts {
		opt(&e.opts)
	}
	if e.opts.logger == nil {
		e.opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Apply claims the table, applies every operation of every step in order,
// and records the version with the tracker after each step's operations
// have all been verified against the live table.
//
// Cancellation is honored between operations, never mid-change: aborting
// the process does not abort a structural change already submitted to the
// service, so the next invocation resumes from the live table state.
func (e *Executor) Apply(ctx context.Context, p plan.Plan) (state.Record, error) {
	token, err := e.tracker.Begin(ctx, p.Table, p.From, p.To)
	if err != nil {
		return state.Record{}, err
	}
	e.opts.logger.Info("migration started", "table", p.Table, "from", p.From, "to", p.To)

	if err := e.applySteps(ctx, p, token); err != nil {
		// The abort write must land even when the failure is the caller's
		// cancellation, or the claim stays in-progress forever.
		if abortErr := e.tracker.Abort(context.WithoutCancel(ctx), token, err); abortErr != nil {
			e.opts.logger.Error("abort failed", "table", p.Table, "error", abortErr)
		}
		e.opts.logger.Error("migration failed", "table", p.Table, "version", token.Version(), "error", err)
		return state.Record{}, err
	}

	if err := e.tracker.Complete(ctx, token); err != nil {
		return state.Record{}, err
	}
	e.opts.logger.Info("migration complete", "table", p.Table, "version", token.Version())

	rec, _, err := e.tracker.Status(ctx, p.Table)
	return rec, err
}

func (e *Executor) applySteps(ctx context.Context, p plan.Plan, token *state.Token) error {
	for _, step := range p.Steps {
		// Attribute definitions are carried to the structural change
		// that references them; the service accepts them only on that
		// call.
		var pendingAttrs []schema.KeyDef
		for _, op := range step.Ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			if attr, ok := op.(diff.AddAttribute); ok {
				pendingAttrs = append(pendingAttrs, attr.Attr)
				continue
			}
			if err := e.applyOp(ctx, p.Table, op, pendingAttrs); err != nil {
				return err
			}
			pendingAttrs = nil
		}
		if err := e.tracker.RecordStep(ctx, token, step.Version); err != nil {
			return err
		}
		e.opts.logger.Info("version applied", "table", p.Table, "version", step.Version)
	}
	return nil
}

// applyOp drives one operation through pending -> submitted -> polling ->
// verified. An operation whose post-state already holds on the live table
// is treated as applied without resubmission, which is what makes a
// crashed run resumable.
func (e *Executor) applyOp(ctx context.Context, table string, op diff.Operation, attrs []schema.KeyDef) error {
	desc, err := e.describe(ctx, table)
	if err != nil {
		return &ExecutionError{Op: op.Describe(), Err: err}
	}

	if satisfied(desc, op) {
		e.opts.logger.Info("operation already applied", "table", table, "op", op.Describe())
	} else {
		if err := e.submit(ctx, table, op, attrs); err != nil {
			return err
		}
		e.opts.logger.Info("operation submitted", "table", table, "op", op.Describe())
	}

	if err := e.awaitVerified(ctx, table, op); err != nil {
		return err
	}
	e.opts.logger.Info("operation verified", "table", table, "op", op.Describe())
	return nil
}

// submit issues the structural change, retrying throttles within the
// budget. Service errors other than throttling surface unchanged inside
// an ExecutionError.
func (e *Executor) submit(ctx context.Context, table string, op diff.Operation, attrs []schema.KeyDef) error {
	var attempts int
	for {
		err := e.call(ctx, table, op, attrs)
		if err == nil {
			return nil
		}
		if !ddbadmin.IsThrottled(err) {
			return &ExecutionError{Op: op.Describe(), Err: err}
		}
		attempts++
		if attempts > e.opts.maxRetries {
			return &ThrottledError{Op: op.Describe(), Attempts: attempts, Err: err}
		}
		e.opts.logger.Warn("throttled, backing off", "table", table, "op", op.Describe(), "attempt", attempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.backoff(attempts - 1)):
		}
	}
}

func (e *Executor) call(ctx context.Context, table string, op diff.Operation, attrs []schema.KeyDef) error {
	switch o := op.(type) {
	case diff.CreateTable:
		_, err := e.admin.CreateTable(ctx, ddbadmin.CreateTableInput(o.Model))
		return err
	case diff.DeleteTable:
		_, err := e.admin.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: &o.Table})
		return err
	case diff.AddGSI:
		in := ddbadmin.AddGSIInput(table, o.Name, o.Index, o.Billing, o.TableThroughput, attrs)
		_, err := e.admin.UpdateTable(ctx, in)
		return err
	case diff.RemoveGSI:
		_, err := e.admin.UpdateTable(ctx, ddbadmin.RemoveGSIInput(table, o.Name))
		return err
	case diff.UpdateThroughput:
		_, err := e.admin.UpdateTable(ctx, ddbadmin.UpdateThroughputInput(table, o.Billing, o.Throughput))
		return err
	default:
		return fmt.Errorf("unsupported operation type %T", op)
	}
}

// awaitVerified polls until the table is stable and the operation's
// post-state holds, bounded by the poll timeout.
func (e *Executor) awaitVerified(ctx context.Context, table string, op diff.Operation) error {
	deadline := time.Now().Add(e.opts.pollTimeout)
	for {
		desc, err := e.describe(ctx, table)
		if err != nil {
			return &ExecutionError{Op: op.Describe(), Err: err}
		}
		if satisfied(desc, op) && stableOrGone(desc, op) {
			return nil
		}
		if time.Now().After(deadline) {
			return &ExecutionError{Op: op.Describe(), Err: fmt.Errorf("table %s did not stabilize within %s", table, e.opts.pollTimeout)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.pollInterval):
		}
	}
}

// describe returns the live table description, nil when the table does
// not exist.
func (e *Executor) describe(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := e.admin.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &table})
	if err != nil {
		if ddbadmin.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.Table, nil
}

// satisfied reports whether the operation's expected post-state holds on
// the live description.
func satisfied(desc *types.TableDescription, op diff.Operation) bool {
	switch o := op.(type) {
	case diff.CreateTable:
		// Mere existence is not enough: a leftover table with a different
		// key schema must not pass as the create's post-state.
		return ddbadmin.TableKeysMatch(desc, o.Model)
	case diff.DeleteTable:
		return desc == nil
	case diff.AddGSI:
		return ddbadmin.IndexKeysMatch(desc, o.Name, o.Index)
	case diff.RemoveGSI:
		return desc == nil || !ddbadmin.HasIndex(desc, o.Name)
	case diff.UpdateThroughput:
		return ddbadmin.ThroughputMatches(desc, o.Billing, o.Throughput)
	default:
		return false
	}
}

// stableOrGone is the stability requirement for verification: a deleted
// table has nothing to stabilize.
func stableOrGone(desc *types.TableDescription, op diff.Operation) bool {
	if _, ok := op.(diff.DeleteTable); ok {
		return desc == nil
	}
	return ddbadmin.Stable(desc)
}
