package pgkit

import (
	"context"
)

// Task is a unit of sequential database operations sharing one dedicated
// connection, without transactional guarantees. Each task, nested ones
// included, gets its own protocol surface and its own context.
type Task struct {
	base
}

// TaskFunc is the callback executed inside a task. The returned value is
// recorded as the context's result on success; the returned error is
// recorded as the result on failure.
type TaskFunc func(t *Task) (any, error)

// Task acquires a dedicated connection and executes fn on it. The connect
// event fires after the connection is acquired and the disconnect event
// after it is released. The task event fires twice: at start, before fn
// runs, and at finish, after the context settles.
func (db *DB) Task(ctx context.Context, tag any, fn TaskFunc) (any, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		werr := wrapError(err, "Task")
		db.ev.errorEvent(werr, &EventContext{Conn: maskDSN(db.cfg.URL)})
		return nil, werr
	}
	db.ev.connect(conn)
	defer func() {
		_ = conn.Release()
		db.ev.disconnect(conn)
	}()

	return runTask(db, conn, tag, nil, fn)
}

// Task starts a nested task on the same connection. The nested task carries
// a back-reference to this task's context and gets a freshly built protocol
// surface, so extensions are re-applied at this level too.
func (t *Task) Task(ctx context.Context, tag any, fn TaskFunc) (any, error) {
	return runTask(t.db, t.run, tag, t.tc, fn)
}

// runTask builds the task protocol object and context, fires the start
// notification, executes fn, settles the context and fires the finish
// notification. The finish notification always carries the settle outcome,
// panics included.
func runTask(db *DB, run Executor, tag any, parent *TaskContext, fn TaskFunc) (result any, err error) {
	tc := newTaskContext(false, tag, parent)
	t := &Task{base: base{db: db, run: run, tc: tc}}
	t.install(t)

	db.ev.task(tc)

	defer func() {
		if p := recover(); p != nil {
			tc.settle(false, p)
			db.ev.task(tc)
			panic(p)
		}
		if err != nil {
			tc.settle(false, err)
			db.ev.errorEvent(err, &EventContext{Client: run, Task: tc})
		} else {
			tc.settle(true, result)
		}
		db.ev.task(tc)
	}()

	result, err = fn(t)
	if err != nil {
		result = nil
	}
	return result, err
}
