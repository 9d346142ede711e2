package pgkit

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// events invokes the configured lifecycle handlers. Two failure policies
// exist. Veto-capable events (query, receive) fire before a value is promised
// to the caller, so a handler failure is returned and becomes the operation's
// rejection. Everything else is observational: handler failures are absorbed
// and routed to the unexpected sink so they cannot corrupt unrelated control
// flow.
type events struct {
	hooks Options
	diag  *slog.Logger
	quiet bool
}

func newEvents(cfg Config) *events {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &events{
		hooks: cfg.Hooks,
		diag:  logger,
		quiet: cfg.SuppressUnexpected,
	}
}

// call runs a handler, converting a panic into an error so a misbehaving
// observer follows the same policy path as one that returns an error.
func call(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn()
}

// connect fires when a physical connection is acquired. Fire-and-forget.
func (e *events) connect(client Executor) {
	if e.hooks.Connect == nil {
		return
	}
	if err := call(func() error { return e.hooks.Connect(client) }); err != nil {
		e.unexpected("connect", err)
	}
}

// disconnect mirrors connect for connection release.
func (e *events) disconnect(client Executor) {
	if e.hooks.Disconnect == nil {
		return
	}
	if err := call(func() error { return e.hooks.Disconnect(client) }); err != nil {
		e.unexpected("disconnect", err)
	}
}

// query fires strictly before the driver executes a statement. A handler
// failure is wrapped and returned; the caller must reject the pending
// operation with it and skip the driver entirely.
func (e *events) query(ec *EventContext) error {
	if e.hooks.Query == nil {
		return nil
	}
	if err := call(func() error { return e.hooks.Query(ec) }); err != nil {
		return handlerError("query", err)
	}
	return nil
}

// receive fires after rows arrive and strictly before they reach the caller.
// Same veto policy as query.
func (e *events) receive(data []Row, res *Result, ec *EventContext) error {
	if e.hooks.Receive == nil {
		return nil
	}
	if err := call(func() error { return e.hooks.Receive(data, res, ec) }); err != nil {
		return handlerError("receive", err)
	}
	return nil
}

// task fires at task start and finish. Fire-and-forget.
func (e *events) task(tc *TaskContext) {
	if e.hooks.Task == nil {
		return
	}
	if err := call(func() error { return e.hooks.Task(tc) }); err != nil {
		e.unexpected("task", err)
	}
}

// transact mirrors task for transactions.
func (e *events) transact(tc *TaskContext) {
	if e.hooks.Transact == nil {
		return
	}
	if err := call(func() error { return e.hooks.Transact(tc) }); err != nil {
		e.unexpected("transact", err)
	}
}

// errorEvent fires for every error the library surfaces, strictly before the
// caller observes it. The originating error propagates untouched even when
// the handler itself fails.
func (e *events) errorEvent(cause error, ec *EventContext) {
	if e.hooks.Error == nil {
		return
	}
	if err := call(func() error { return e.hooks.Error(cause, ec) }); err != nil {
		e.unexpected("error", err)
	}
}

// extend fires once per protocol object construction, after built-ins are
// installed and before the namespace locks. Fire-and-forget.
func (e *events) extend(p Protocol) {
	if e.hooks.Extend == nil {
		return
	}
	if err := call(func() error { return e.hooks.Extend(p) }); err != nil {
		e.unexpected("extend", err)
	}
}

// unexpected is the last-resort diagnostic sink for handler failures inside
// fire-and-forget events. Not a public event.
func (e *events) unexpected(event string, err error) {
	if e.quiet {
		return
	}
	e.diag.Error("unexpected error in event handler",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}
