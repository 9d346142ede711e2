/*
Package pgkit provides a PostgreSQL access layer built around lifecycle
events, task/transaction contexts and a locked protocol namespace.

PGKit wraps Bun over pgdriver with:
  - Typed lifecycle events (connect, disconnect, query, receive, task,
    transact, error, extend) with two failure policies
  - Task and transaction execution with per-level contexts, nesting and
    savepoints
  - A protocol namespace guard with a single controlled extension point
  - Rich error handling with PostgreSQL error parsing
  - Observability helpers (logging, metrics, tracing) driven by the events

# Basic Usage

	cfg := pgkit.DefaultConfig(os.Getenv("DATABASE_URL"))
	cfg.Hooks.Query = func(e *pgkit.EventContext) error {
	    log.Println("executing:", e.Query)
	    return nil
	}

	db, err := pgkit.New(cfg)
	if err != nil {
	    log.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query(ctx, "SELECT id, name FROM users WHERE active = $1", true)

# Events

Query and Receive are veto-capable: an error returned by the handler rejects
the pending operation and, for Query, skips the driver entirely. All other
events are fire-and-forget; their handler failures are absorbed and reported
on the diagnostic sink, never to the triggering operation:

	cfg.Hooks.Task = func(tc *pgkit.TaskContext) error {
	    if out, ok := tc.Outcome(); ok {
	        log.Printf("task %v finished: success=%v", tc.Tag, out.Success)
	    }
	    return nil
	}

# Tasks and Transactions

Tasks share one dedicated connection; transactions add a commit/rollback
boundary. Both nest, and each level gets its own context:

	v, err := db.Transaction(ctx, "signup", func(tx *pgkit.Tx) (any, error) {
	    if _, err := tx.Exec(ctx, "INSERT INTO users ..."); err != nil {
	        return nil, err // rollback
	    }
	    return tx.Transaction(ctx, "audit", func(tx2 *pgkit.Tx) (any, error) {
	        return nil, tx2.None(ctx, "INSERT INTO audit ...")
	    })
	})

# Extension Point

The Extend handler fires once per protocol object construction, root and
every task/transaction level included, before the namespace locks:

	cfg.Hooks.Extend = func(p pgkit.Protocol) error {
	    return p.Set("findUser", myFinder)
	}

After construction the namespace is read-only; reassigning an extension or
shadowing a built-in fails with a read-only error.

# Error Handling

	if _, err := db.One(ctx, "SELECT * FROM users WHERE id = $1", id); err != nil {
	    if pgkit.IsNotFound(err) {
	        // no such user
	    }
	}
*/
package pgkit
