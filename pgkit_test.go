package pgkit

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// stubExecutor records driver interaction and optionally fails every call.
// Used where tests must prove the driver was (or was not) invoked.
type stubExecutor struct {
	execs   []string
	queries []string
	err     error
}

func (s *stubExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.execs = append(s.execs, query)
	return nil, s.err
}

func (s *stubExecutor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return nil, sql.ErrNoRows
}

func (s *stubExecutor) calls() int {
	return len(s.execs) + len(s.queries)
}

// sqliteConn adapts an in-memory SQLite database to the Conn surface so
// tests can exercise real rows and transactions without a PostgreSQL server.
type sqliteConn struct {
	db *sql.DB
}

func (c sqliteConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c sqliteConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c sqliteConn) Begin(ctx context.Context, opts *sql.TxOptions) (TxHandle, error) {
	return c.db.BeginTx(ctx, opts)
}

func (c sqliteConn) Release() error {
	return nil
}

func newSQLiteConn(t *testing.T) sqliteConn {
	t.Helper()

	sdb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// Transactions need every statement on the same physical connection
	sdb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sdb.Close() })

	return sqliteConn{db: sdb}
}

// stubConn turns a stubExecutor into a Conn for task-level tests.
type stubConn struct {
	*stubExecutor
}

func (c stubConn) Begin(ctx context.Context, opts *sql.TxOptions) (TxHandle, error) {
	return nil, sql.ErrConnDone
}

func (c stubConn) Release() error {
	return nil
}

// newTestDB builds a handle around an injected connection, skipping the
// pgdriver pool so unit tests run without a live server.
func newTestDB(t *testing.T, cfg Config, conn Conn) *DB {
	t.Helper()

	cfg.applyDefaults()

	db := &DB{cfg: cfg, ev: newEvents(cfg)}
	db.base = base{db: db, run: conn}
	db.acquire = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}
	db.install(db)
	return db
}
