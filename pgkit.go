package pgkit

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// DB is the root database handle. It owns the connection pool, the lifecycle
// event dispatcher and the root protocol namespace. Tasks and transactions
// started from it receive their own protocol surface and context.
type DB struct {
	base
	bun *bun.DB
	cfg Config
	ev  *events

	// acquire hands out a dedicated connection for tasks/transactions.
	// Swappable so tests can inject an executor without a live pool.
	acquire func(ctx context.Context) (Conn, error)
}

// New creates a new database handle with the given configuration
func New(cfg Config, opts ...Option) (*DB, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if cfg.URL == "" {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "database URL is required",
			Op:      "New",
		}
	}

	// Create pgdriver connector with timeouts
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.URL),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
		pgdriver.WithReadTimeout(cfg.ReadTimeout),
		pgdriver.WithWriteTimeout(cfg.WriteTimeout),
	)

	// Open sql.DB
	sqlDB := sql.OpenDB(connector)

	// Configure pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Create bun.DB
	bunDB := bun.NewDB(sqlDB, pgdialect.New())

	db := &DB{
		bun: bunDB,
		cfg: cfg,
		ev:  newEvents(cfg),
	}
	db.base = base{db: db, run: bunDB}
	db.acquire = func(ctx context.Context) (Conn, error) {
		conn, err := bunDB.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return bunConn{conn: conn}, nil
	}

	// Build the root protocol surface: built-ins, extend, lock
	db.install(db)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := bunDB.PingContext(ctx); err != nil {
		werr := &Error{
			Code:    CodeConnectionFailed,
			Message: "failed to connect to database",
			Op:      "New",
			Cause:   err,
		}
		db.ev.errorEvent(werr, &EventContext{Conn: maskDSN(cfg.URL)})
		return nil, werr
	}

	db.ev.connect(bunDB)

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.bun == nil {
		return nil
	}
	db.ev.disconnect(db.bun)
	if err := db.bun.Close(); err != nil {
		werr := wrapError(err, "Close")
		db.ev.errorEvent(werr, &EventContext{Conn: maskDSN(db.cfg.URL)})
		return werr
	}
	return nil
}

// Ping verifies the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	if err := db.bun.PingContext(ctx); err != nil {
		werr := wrapError(err, "Ping")
		db.ev.errorEvent(werr, &EventContext{Conn: maskDSN(db.cfg.URL)})
		return werr
	}
	return nil
}

// Stats returns connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.bun.DB.Stats()
}

// Bun returns the underlying bun.DB for direct access
func (db *DB) Bun() *bun.DB {
	return db.bun
}

// Config returns the current configuration
func (db *DB) Config() Config {
	return db.cfg
}

// bunConn adapts a bun.Conn to the Conn acquisition surface.
type bunConn struct {
	conn bun.Conn
}

func (c bunConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c bunConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c bunConn) Begin(ctx context.Context, opts *sql.TxOptions) (TxHandle, error) {
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c bunConn) Release() error {
	return c.conn.Close()
}

// Ensure protocol objects expose the guarded surface
var (
	_ Protocol = (*DB)(nil)
	_ Protocol = (*Task)(nil)
	_ Protocol = (*Tx)(nil)
)
