package pgkit

import (
	"context"
	"database/sql"
	"time"
)

// Executor is the minimal statement-execution surface shared by the root
// pool, per-task connections and open transactions. bun.DB, bun.Conn and
// bun.Tx all satisfy it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn is a dedicated physical connection able to host tasks and begin
// transactions.
type Conn interface {
	Executor
	Begin(ctx context.Context, opts *sql.TxOptions) (TxHandle, error)
	Release() error
}

// TxHandle is an open transaction on a Conn.
type TxHandle interface {
	Executor
	Commit() error
	Rollback() error
}

// Row is one result record keyed by column name. Receive handlers may mutate
// rows in place; mutations are observed by the caller.
type Row map[string]any

// Result describes the raw result of a completed statement, passed to
// receive events alongside the rows.
type Result struct {
	Rows     int           // number of rows returned
	Duration time.Duration // driver round-trip time
}

// base carries the shared protocol surface embedded by DB, Task and Tx:
// the guarded namespace, the executor the object runs statements on, and the
// enclosing task/transaction context.
type base struct {
	db  *DB
	run Executor
	ns  *Namespace
	tc  *TaskContext
}

// install builds the protocol surface for target: reserve the built-in
// method set, fire the extend event, lock the namespace. Invoked fresh for
// the root handle and for every task/transaction entry, nested levels
// included, so extensions are re-applied per level rather than inherited.
func (b *base) install(target Protocol) {
	b.ns = newNamespace(target, b.db.cfg.NoLocking)
	b.db.ev.extend(target)
	b.ns.Lock(true)
}

// Set attaches a custom capability to this protocol object. After
// construction completes the namespace is locked and Set fails with a
// read-only error.
func (b *base) Set(name string, value any) error {
	return b.ns.Set(name, value)
}

// Get returns a capability attached via Set.
func (b *base) Get(name string) (any, bool) {
	return b.ns.Get(name)
}

// Context returns the task/transaction context of this protocol object, nil
// on the root handle.
func (b *base) Context() *TaskContext {
	return b.tc
}

// Client returns the executor this object runs statements on.
func (b *base) Client() Executor {
	return b.run
}

// Exec runs a statement that returns no rows. The query event fires strictly
// before the driver executes; a handler veto rejects the operation and the
// driver is never invoked.
func (b *base) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ec := &EventContext{Query: query, Args: args, Client: b.run, Task: b.tc}
	if err := b.db.ev.query(ec); err != nil {
		b.db.ev.errorEvent(err, ec)
		return nil, err
	}
	res, err := b.run.ExecContext(ctx, query, args...)
	if err != nil {
		werr := wrapError(err, "Exec")
		b.db.ev.errorEvent(werr, ec)
		return nil, werr
	}
	return res, nil
}

// Query runs a statement and returns every resulting row. The receive event
// fires strictly before rows reach the caller; a handler veto rejects the
// operation instead.
func (b *base) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	data, _, err := b.queryRows(ctx, "Query", query, args)
	return data, err
}

// Any is an alias of Query: zero or more rows, no shape constraint.
func (b *base) Any(ctx context.Context, query string, args ...any) ([]Row, error) {
	data, _, err := b.queryRows(ctx, "Any", query, args)
	return data, err
}

// One runs a statement expected to return exactly one row.
func (b *base) One(ctx context.Context, query string, args ...any) (Row, error) {
	data, _, err := b.queryRows(ctx, "One", query, args)
	if err != nil {
		return nil, err
	}
	switch len(data) {
	case 0:
		return nil, b.shapeError(&Error{Code: CodeNotFound, Message: "no rows returned", Op: "One"}, query, args)
	case 1:
		return data[0], nil
	default:
		return nil, b.shapeError(&Error{Code: CodeMultiple, Message: "multiple rows returned", Op: "One"}, query, args)
	}
}

// Many runs a statement expected to return at least one row.
func (b *base) Many(ctx context.Context, query string, args ...any) ([]Row, error) {
	data, _, err := b.queryRows(ctx, "Many", query, args)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, b.shapeError(&Error{Code: CodeNotFound, Message: "no rows returned", Op: "Many"}, query, args)
	}
	return data, nil
}

// None runs a statement expected to return no rows.
func (b *base) None(ctx context.Context, query string, args ...any) error {
	data, _, err := b.queryRows(ctx, "None", query, args)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		return b.shapeError(&Error{Code: CodeMultiple, Message: "no return data was expected", Op: "None"}, query, args)
	}
	return nil
}

// shapeError reports a result-shape mismatch through the error event before
// the caller observes it.
func (b *base) shapeError(err *Error, query string, args []any) error {
	ec := &EventContext{Query: query, Args: args, Client: b.run, Task: b.tc}
	b.db.ev.errorEvent(err, ec)
	return err
}

func (b *base) queryRows(ctx context.Context, op, query string, args []any) ([]Row, *Result, error) {
	ec := &EventContext{Query: query, Args: args, Client: b.run, Task: b.tc}
	if err := b.db.ev.query(ec); err != nil {
		b.db.ev.errorEvent(err, ec)
		return nil, nil, err
	}

	start := time.Now()
	rows, err := b.run.QueryContext(ctx, query, args...)
	if err != nil {
		werr := wrapError(err, op)
		b.db.ev.errorEvent(werr, ec)
		return nil, nil, werr
	}

	data, err := scanRows(rows)
	if err != nil {
		werr := wrapError(err, op)
		b.db.ev.errorEvent(werr, ec)
		return nil, nil, werr
	}

	res := &Result{Rows: len(data), Duration: time.Since(start)}
	if len(data) > 0 {
		if err := b.db.ev.receive(data, res, ec); err != nil {
			b.db.ev.errorEvent(err, ec)
			return nil, nil, err
		}
	}
	return data, res, nil
}

// scanRows drains rows into ordered row maps. []byte values are converted to
// string so handlers and callers see comparable values.
func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			v := vals[i]
			if bs, ok := v.([]byte); ok {
				v = string(bs)
			}
			r[c] = v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
