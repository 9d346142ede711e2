package pgkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
)

// Tx is a transaction handle: a task wrapped in a commit/rollback boundary.
// Nested transactions run on savepoints. Each level, nested ones included,
// gets its own protocol surface and its own context.
type Tx struct {
	base
	handle       TxHandle
	savepointID  int64
	savepointSeq *int64 // Shared across nested transactions
}

// TxOptions configures transaction behavior
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// DefaultTxOptions returns default transaction options
func DefaultTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelDefault,
		ReadOnly:  false,
	}
}

// ReadOnlyTxOptions returns options for read-only transactions
func ReadOnlyTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelDefault,
		ReadOnly:  true,
	}
}

// SerializableTxOptions returns options for serializable transactions
func SerializableTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  false,
	}
}

// TxFunc is the callback executed within a transaction. The returned value
// is recorded as the context's result on success.
type TxFunc func(tx *Tx) (any, error)

// Transaction executes fn within a transaction with automatic commit/rollback
func (db *DB) Transaction(ctx context.Context, tag any, fn TxFunc) (any, error) {
	return db.TransactionWithOptions(ctx, DefaultTxOptions(), tag, fn)
}

// TransactionWithOptions executes fn within a transaction with custom
// options. The transact event fires at start and again once the context
// settles with the commit or rollback outcome.
func (db *DB) TransactionWithOptions(ctx context.Context, opts TxOptions, tag any, fn TxFunc) (any, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		werr := wrapError(err, "Transaction")
		db.ev.errorEvent(werr, &EventContext{Conn: maskDSN(db.cfg.URL)})
		return nil, werr
	}
	db.ev.connect(conn)
	defer func() {
		_ = conn.Release()
		db.ev.disconnect(conn)
	}()

	handle, err := conn.Begin(ctx, &sql.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		werr := wrapError(err, "Transaction.Begin")
		db.ev.errorEvent(werr, &EventContext{Client: conn})
		return nil, werr
	}

	seq := int64(0)
	tc := newTaskContext(true, tag, nil)
	tx := &Tx{
		base:         base{db: db, run: handle, tc: tc},
		handle:       handle,
		savepointSeq: &seq,
	}
	tx.install(tx)

	return tx.execute(fn)
}

// execute runs fn inside the already-open transaction, settling the context
// and firing the finish notification on every path, panics included.
func (tx *Tx) execute(fn TxFunc) (result any, err error) {
	db := tx.db
	tc := tx.tc

	db.ev.transact(tc)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.handle.Rollback()
			tc.settle(false, p)
			db.ev.transact(tc)
			panic(p)
		}
		if err != nil {
			tc.settle(false, err)
			db.ev.errorEvent(err, &EventContext{Client: tx.run, Task: tc})
		} else {
			tc.settle(true, result)
		}
		db.ev.transact(tc)
	}()

	result, err = fn(tx)
	if err != nil {
		if rbErr := tx.handle.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("pgkit: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return nil, err
	}

	if cErr := tx.handle.Commit(); cErr != nil {
		err = wrapError(cErr, "Transaction.Commit")
		return nil, err
	}
	return result, nil
}

// Transaction creates a savepoint for nested transaction support. The nested
// level gets its own protocol surface and a context linked to this one.
func (tx *Tx) Transaction(ctx context.Context, tag any, fn TxFunc) (result any, err error) {
	// Generate unique savepoint name
	id := atomic.AddInt64(tx.savepointSeq, 1)
	savepoint := fmt.Sprintf("sp_%d", id)

	if _, err := tx.run.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return nil, tx.surface(err, "Transaction.Savepoint", "SAVEPOINT "+savepoint)
	}

	db := tx.db
	tc := newTaskContext(true, tag, tx.tc)
	nested := &Tx{
		base:         base{db: db, run: tx.run, tc: tc},
		handle:       tx.handle,
		savepointID:  id,
		savepointSeq: tx.savepointSeq,
	}
	nested.install(nested)

	db.ev.transact(tc)

	defer func() {
		if p := recover(); p != nil {
			_, _ = tx.run.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			tc.settle(false, p)
			db.ev.transact(tc)
			panic(p)
		}
		if err != nil {
			tc.settle(false, err)
			db.ev.errorEvent(err, &EventContext{Client: tx.run, Task: tc})
		} else {
			tc.settle(true, result)
		}
		db.ev.transact(tc)
	}()

	result, err = fn(nested)
	if err != nil {
		// Rollback to savepoint
		if _, rbErr := tx.run.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			err = fmt.Errorf("pgkit: savepoint rollback failed: %v (original error: %w)", rbErr, err)
		}
		return nil, err
	}

	// Release savepoint (commit)
	if rErr := releaseSavepoint(ctx, tx.run, savepoint); rErr != nil {
		err = wrapError(rErr, "Transaction.ReleaseSavepoint")
		return nil, err
	}
	return result, nil
}

// Task starts a task that shares this transaction's connection and boundary.
func (tx *Tx) Task(ctx context.Context, tag any, fn TaskFunc) (any, error) {
	return runTask(tx.db, tx.run, tag, tx.tc, fn)
}

// Savepoint creates a named savepoint for manual control
func (tx *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := tx.run.ExecContext(ctx, "SAVEPOINT "+name)
	return tx.surface(err, "Savepoint", "SAVEPOINT "+name)
}

// RollbackTo rolls back to a named savepoint
func (tx *Tx) RollbackTo(ctx context.Context, name string) error {
	_, err := tx.run.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return tx.surface(err, "RollbackTo", "ROLLBACK TO SAVEPOINT "+name)
}

// ReleaseSavepoint releases a named savepoint
func (tx *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	err := releaseSavepoint(ctx, tx.run, name)
	return tx.surface(err, "ReleaseSavepoint", "RELEASE SAVEPOINT "+name)
}

// surface classifies err and reports it on the error event strictly before
// the caller observes it.
func (tx *Tx) surface(err error, op, query string) error {
	if err == nil {
		return nil
	}
	werr := wrapError(err, op)
	tx.db.ev.errorEvent(werr, &EventContext{Query: query, Client: tx.run, Task: tx.tc})
	return werr
}

func releaseSavepoint(ctx context.Context, run Executor, name string) error {
	_, err := run.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
