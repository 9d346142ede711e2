package pgkit

import (
	"time"

	"github.com/google/uuid"
)

// TaskContext describes the state of one task or transaction. It is created
// when the task or transaction starts and settles exactly once when the
// callback returns. A context is owned by the call frame that created it and
// is never shared across concurrent chains.
type TaskContext struct {
	// ID identifies this task or transaction for diagnostics.
	ID uuid.UUID

	// IsTransaction distinguishes a transaction from a plain task.
	IsTransaction bool

	// Tag is the caller-supplied identifier, opaque to the library.
	Tag any

	// Start is the creation time.
	Start time.Time

	// Parent links a nested task or transaction to the context of the
	// level it was started from. Diagnostic only; nesting does not imply
	// ownership.
	Parent *TaskContext

	// outcome is nil while running. Finish, Success and Result are
	// assigned together in a single settle call, so a context can never
	// be observed half-finished.
	outcome *Outcome
}

// Outcome carries the settle result of a task or transaction.
type Outcome struct {
	Finish  time.Time
	Success bool
	// Result is the callback's resolved value when Success is true, the
	// failure when Success is false.
	Result any
}

func newTaskContext(isTx bool, tag any, parent *TaskContext) *TaskContext {
	return &TaskContext{
		ID:            uuid.New(),
		IsTransaction: isTx,
		Tag:           tag,
		Start:         time.Now(),
		Parent:        parent,
	}
}

// settle records the final outcome. Calling settle twice is a programming
// error inside the library; the second call is ignored to keep the first
// outcome authoritative.
func (tc *TaskContext) settle(success bool, result any) {
	if tc.outcome != nil {
		return
	}
	tc.outcome = &Outcome{
		Finish:  time.Now(),
		Success: success,
		Result:  result,
	}
}

// Finished reports whether the task or transaction has settled. Handlers use
// this to distinguish the start notification from the finish notification.
func (tc *TaskContext) Finished() bool {
	return tc.outcome != nil
}

// Outcome returns the settle result. ok is false while the task or
// transaction is still running.
func (tc *TaskContext) Outcome() (Outcome, bool) {
	if tc.outcome == nil {
		return Outcome{}, false
	}
	return *tc.outcome, true
}

// Duration returns the elapsed time since Start, or the total run time once
// settled.
func (tc *TaskContext) Duration() time.Duration {
	if tc.outcome != nil {
		return tc.outcome.Finish.Sub(tc.Start)
	}
	return time.Since(tc.Start)
}

// Depth returns the nesting depth, 0 for a top-level task or transaction.
func (tc *TaskContext) Depth() int {
	d := 0
	for p := tc.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// EventContext is the payload passed to query-scoped and connection-scoped
// event handlers.
type EventContext struct {
	// Conn is the masked connection descriptor. Populated only for
	// connection-related error events; the password is never included.
	Conn string

	// Query is the statement text, present for query, receive and error
	// events.
	Query string

	// Args are the query parameters. Always included when present so a
	// formatting failure can be diagnosed from the event alone.
	Args []any

	// Client is the active connection handle the operation runs on.
	Client Executor

	// Task is the enclosing task or transaction context, nil for
	// operations on the root handle.
	Task *TaskContext
}
