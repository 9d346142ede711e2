package pgkit

import (
	"context"
	"errors"
	"testing"
)

func countRows(t *testing.T, conn Conn, table string) int {
	t.Helper()
	rows, err := conn.QueryContext(context.Background(), "SELECT COUNT(*) AS n FROM "+table)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	data, err := scanRows(rows)
	if err != nil {
		t.Fatalf("count scan failed: %v", err)
	}
	n, ok := data[0]["n"].(int64)
	if !ok {
		t.Fatalf("unexpected count type %T", data[0]["n"])
	}
	return int(n)
}

func TestTransactionCommit(t *testing.T) {
	conn := newSQLiteConn(t)
	mustExec(t, conn, "CREATE TABLE items (id INTEGER)")

	cfg := Config{}
	db := newTestDB(t, cfg, conn)

	v, err := db.Transaction(context.Background(), nil, func(tx *Tx) (any, error) {
		if _, err := tx.Exec(context.Background(), "INSERT INTO items VALUES (1)"); err != nil {
			return nil, err
		}
		return "committed", nil
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if v != "committed" {
		t.Errorf("expected transaction result, got %v", v)
	}
	if n := countRows(t, conn, "items"); n != 1 {
		t.Errorf("expected 1 committed row, got %d", n)
	}
}

func TestTransactionRollback(t *testing.T) {
	conn := newSQLiteConn(t)
	mustExec(t, conn, "CREATE TABLE items (id INTEGER)")

	boom := errors.New("boom")
	var last *TaskContext
	cfg := Config{}
	cfg.Hooks.Transact = func(tc *TaskContext) error {
		last = tc
		return nil
	}
	db := newTestDB(t, cfg, conn)

	_, err := db.Transaction(context.Background(), nil, func(tx *Tx) (any, error) {
		if _, err := tx.Exec(context.Background(), "INSERT INTO items VALUES (1)"); err != nil {
			return nil, err
		}
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if n := countRows(t, conn, "items"); n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}

	out, ok := last.Outcome()
	if !ok || out.Success {
		t.Errorf("finish notification must carry success=false, got %+v ok=%v", out, ok)
	}
	if out.Result != boom {
		t.Errorf("expected rejection reason as result, got %v", out.Result)
	}
}

func TestTransactionContextMarkedAsTransaction(t *testing.T) {
	conn := newSQLiteConn(t)

	var tcs []*TaskContext
	var finished []bool
	cfg := Config{}
	cfg.Hooks.Transact = func(tc *TaskContext) error {
		tcs = append(tcs, tc)
		finished = append(finished, tc.Finished())
		return nil
	}
	db := newTestDB(t, cfg, conn)

	if _, err := db.Transaction(context.Background(), "t1", func(tx *Tx) (any, error) {
		return 42, nil
	}); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if len(tcs) != 2 {
		t.Fatalf("transact must fire at start and finish, got %d", len(tcs))
	}
	if finished[0] || !finished[1] {
		t.Errorf("expected start then finish, got %v", finished)
	}
	if !tcs[0].IsTransaction {
		t.Error("context must be marked as transaction")
	}
	out, _ := tcs[1].Outcome()
	if !out.Success || out.Result != 42 {
		t.Errorf("expected success=true result=42, got %+v", out)
	}
}

func TestNestedTransactionSavepointRollback(t *testing.T) {
	conn := newSQLiteConn(t)
	mustExec(t, conn, "CREATE TABLE items (id INTEGER)")

	var starts []*TaskContext
	cfg := Config{}
	cfg.Hooks.Transact = func(tc *TaskContext) error {
		if !tc.Finished() {
			starts = append(starts, tc)
		}
		return nil
	}
	db := newTestDB(t, cfg, conn)

	_, err := db.Transaction(context.Background(), "outer", func(tx *Tx) (any, error) {
		if _, err := tx.Exec(context.Background(), "INSERT INTO items VALUES (1)"); err != nil {
			return nil, err
		}

		// Inner failure rolls back to the savepoint only
		_, innerErr := tx.Transaction(context.Background(), "inner", func(tx2 *Tx) (any, error) {
			if _, err := tx2.Exec(context.Background(), "INSERT INTO items VALUES (2)"); err != nil {
				return nil, err
			}
			return nil, errors.New("inner boom")
		})
		if innerErr == nil {
			return nil, errors.New("expected inner failure")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("outer transaction failed: %v", err)
	}

	if n := countRows(t, conn, "items"); n != 1 {
		t.Errorf("expected only the outer row after savepoint rollback, got %d", n)
	}
	if len(starts) != 2 {
		t.Fatalf("expected 2 transaction starts, got %d", len(starts))
	}
	if starts[1].Parent != starts[0] {
		t.Error("nested transaction context must reference the outer context")
	}
}

func TestNestedTransactionCommit(t *testing.T) {
	conn := newSQLiteConn(t)
	mustExec(t, conn, "CREATE TABLE items (id INTEGER)")

	db := newTestDB(t, Config{}, conn)

	_, err := db.Transaction(context.Background(), nil, func(tx *Tx) (any, error) {
		return tx.Transaction(context.Background(), nil, func(tx2 *Tx) (any, error) {
			_, err := tx2.Exec(context.Background(), "INSERT INTO items VALUES (1)")
			return nil, err
		})
	})
	if err != nil {
		t.Fatalf("nested transaction failed: %v", err)
	}
	if n := countRows(t, conn, "items"); n != 1 {
		t.Errorf("expected released savepoint to commit with the outer tx, got %d rows", n)
	}
}

func TestTaskInsideTransaction(t *testing.T) {
	conn := newSQLiteConn(t)
	mustExec(t, conn, "CREATE TABLE items (id INTEGER)")

	var taskStarts int
	cfg := Config{}
	cfg.Hooks.Task = func(tc *TaskContext) error {
		if !tc.Finished() {
			taskStarts++
			if tc.Parent == nil || !tc.Parent.IsTransaction {
				t.Error("task inside a transaction must link to the transaction context")
			}
		}
		return nil
	}
	db := newTestDB(t, cfg, conn)

	_, err := db.Transaction(context.Background(), nil, func(tx *Tx) (any, error) {
		return tx.Task(context.Background(), nil, func(tk *Task) (any, error) {
			_, err := tk.Exec(context.Background(), "INSERT INTO items VALUES (1)")
			return nil, err
		})
	})
	if err != nil {
		t.Fatalf("task inside transaction failed: %v", err)
	}
	if taskStarts != 1 {
		t.Errorf("expected 1 task start, got %d", taskStarts)
	}
	if n := countRows(t, conn, "items"); n != 1 {
		t.Errorf("expected the task's insert to commit with the transaction, got %d rows", n)
	}
}

func TestSavepointFailureFiresErrorEvent(t *testing.T) {
	stub := &stubExecutor{err: errors.New("savepoint down")}

	var seen []*EventContext
	cfg := Config{}
	cfg.Hooks.Error = func(err error, e *EventContext) error {
		seen = append(seen, e)
		return nil
	}
	db := newTestDB(t, cfg, stubConn{stub})

	seq := int64(0)
	tc := newTaskContext(true, "outer", nil)
	tx := &Tx{base: base{db: db, run: stub, tc: tc}, savepointSeq: &seq}
	tx.install(tx)

	_, err := tx.Transaction(context.Background(), nil, func(tx2 *Tx) (any, error) {
		t.Fatal("callback must not run when the savepoint fails")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected the savepoint failure")
	}
	if len(seen) != 1 {
		t.Fatalf("savepoint failure must surface on the error event, got %d events", len(seen))
	}
	if seen[0].Task != tc {
		t.Error("error event must carry the enclosing transaction context")
	}
}

func TestManualSavepointHelpersFireErrorEvent(t *testing.T) {
	stub := &stubExecutor{err: errors.New("driver down")}

	var events int
	cfg := Config{}
	cfg.Hooks.Error = func(err error, e *EventContext) error {
		events++
		return nil
	}
	db := newTestDB(t, cfg, stubConn{stub})

	seq := int64(0)
	tx := &Tx{base: base{db: db, run: stub, tc: newTaskContext(true, nil, nil)}, savepointSeq: &seq}
	tx.install(tx)

	ctx := context.Background()
	if err := tx.Savepoint(ctx, "sp"); err == nil {
		t.Error("expected Savepoint to fail")
	}
	if err := tx.RollbackTo(ctx, "sp"); err == nil {
		t.Error("expected RollbackTo to fail")
	}
	if err := tx.ReleaseSavepoint(ctx, "sp"); err == nil {
		t.Error("expected ReleaseSavepoint to fail")
	}
	if events != 3 {
		t.Errorf("each helper failure must surface on the error event, got %d", events)
	}
}

func TestTransactionCallbackPanic(t *testing.T) {
	conn := newSQLiteConn(t)
	mustExec(t, conn, "CREATE TABLE items (id INTEGER)")

	var last *TaskContext
	cfg := Config{}
	cfg.Hooks.Transact = func(tc *TaskContext) error {
		last = tc
		return nil
	}
	db := newTestDB(t, cfg, conn)

	func() {
		defer func() {
			if p := recover(); p != "boom" {
				t.Fatalf("expected the callback panic to propagate, got %v", p)
			}
		}()
		_, _ = db.Transaction(context.Background(), nil, func(tx *Tx) (any, error) {
			if _, err := tx.Exec(context.Background(), "INSERT INTO items VALUES (1)"); err != nil {
				return nil, err
			}
			panic("boom")
		})
	}()

	if n := countRows(t, conn, "items"); n != 0 {
		t.Errorf("expected rollback after callback panic, found %d rows", n)
	}

	out, ok := last.Outcome()
	if !ok {
		t.Fatal("context must settle before the panic propagates")
	}
	if out.Success {
		t.Error("finish notification must carry success=false")
	}
	if out.Result != "boom" {
		t.Errorf("finish notification must carry the panic value, got %v", out.Result)
	}
}
