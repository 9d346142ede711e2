package pgkit

import (
	"log/slog"
	"time"
)

// Options is the set of lifecycle event handlers recognized by the dispatcher.
// Every handler is optional; a nil handler means "no notification for this
// event". Handlers run synchronously on the calling goroutine.
//
// Query and Receive are veto-capable: an error they return (or a panic they
// raise) rejects the in-flight operation before it proceeds. All other events
// are fire-and-forget: handler failures are isolated and routed to the
// diagnostic sink, never to the triggering operation.
type Options struct {
	// Connect fires when a physical connection is acquired.
	Connect func(client Executor) error

	// Disconnect fires when a physical connection is released.
	Disconnect func(client Executor) error

	// Query fires immediately before a statement executes. Returning an
	// error vetoes the operation: the driver is never invoked and the
	// caller receives the wrapped handler error.
	Query func(e *EventContext) error

	// Receive fires after rows arrive and before they reach the caller.
	// The data slice is directly mutable; mutations are observed by the
	// caller. Veto-capable like Query.
	Receive func(data []Row, res *Result, e *EventContext) error

	// Task fires at task start (context not yet settled) and task finish
	// (context settled with the outcome).
	Task func(tc *TaskContext) error

	// Transact mirrors Task for transactions.
	Transact func(tc *TaskContext) error

	// Error fires for every error the library surfaces, before the caller
	// observes it. A handler failure here never masks the original error.
	Error func(err error, e *EventContext) error

	// Extend fires once per protocol object construction (root handle,
	// each task and each transaction, including nested levels), after
	// built-ins are installed and before the namespace is locked.
	Extend func(p Protocol) error
}

// Config holds database configuration
type Config struct {
	// Connection
	URL string // PostgreSQL connection string (required)

	// Pool settings
	MaxOpenConns    int           // Max open connections (default: 25)
	MaxIdleConns    int           // Max idle connections (default: 5)
	ConnMaxLifetime time.Duration // Max connection lifetime (default: 5m)
	ConnMaxIdleTime time.Duration // Max idle time (default: 1m)

	// Timeouts
	DialTimeout  time.Duration // Connection dial timeout (default: 5s)
	ReadTimeout  time.Duration // Read timeout (default: 30s)
	WriteTimeout time.Duration // Write timeout (default: 30s)

	// Lifecycle event handlers
	Hooks Options

	// Logger receives diagnostic output from the `unexpected` sink
	// (default: slog.Default())
	Logger *slog.Logger

	// SuppressUnexpected silences the diagnostic sink. Handler failures in
	// fire-and-forget events are still absorbed, just not reported. Fixed
	// at construction; intended for test harnesses.
	SuppressUnexpected bool

	// NoLocking disables protocol namespace locking entirely, making
	// extension and override unchecked. Intended only for mock injection
	// in tests. Fixed at construction.
	NoLocking bool
}

// Option mutates a Config before the handle is built. Observer packages
// attach their handlers through Options, e.g. hooks.Logging(logger).
type Option func(*Config)

// DefaultConfig returns sensible defaults
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WithLogger sets the diagnostic logger
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	return c
}

// WithHooks sets the lifecycle event handlers
func (c Config) WithHooks(hooks Options) Config {
	c.Hooks = hooks
	return c
}

// WithNoLocking disables protocol namespace locking (test harnesses only)
func (c Config) WithNoLocking() Config {
	c.NoLocking = true
	return c
}

// WithSuppressUnexpected silences the diagnostic sink (test harnesses only)
func (c Config) WithSuppressUnexpected() Config {
	c.SuppressUnexpected = true
	return c
}

// OnConnect appends f to the Connect handler chain.
func (o *Options) OnConnect(f func(client Executor) error) {
	prev := o.Connect
	o.Connect = func(client Executor) error {
		if prev != nil {
			if err := prev(client); err != nil {
				return err
			}
		}
		return f(client)
	}
}

// OnDisconnect appends f to the Disconnect handler chain.
func (o *Options) OnDisconnect(f func(client Executor) error) {
	prev := o.Disconnect
	o.Disconnect = func(client Executor) error {
		if prev != nil {
			if err := prev(client); err != nil {
				return err
			}
		}
		return f(client)
	}
}

// OnQuery appends f to the Query handler chain. Chained handlers run in
// registration order; the first error stops the chain and vetoes the
// operation.
func (o *Options) OnQuery(f func(e *EventContext) error) {
	prev := o.Query
	o.Query = func(e *EventContext) error {
		if prev != nil {
			if err := prev(e); err != nil {
				return err
			}
		}
		return f(e)
	}
}

// OnReceive appends f to the Receive handler chain.
func (o *Options) OnReceive(f func(data []Row, res *Result, e *EventContext) error) {
	prev := o.Receive
	o.Receive = func(data []Row, res *Result, e *EventContext) error {
		if prev != nil {
			if err := prev(data, res, e); err != nil {
				return err
			}
		}
		return f(data, res, e)
	}
}

// OnTask appends f to the Task handler chain.
func (o *Options) OnTask(f func(tc *TaskContext) error) {
	prev := o.Task
	o.Task = func(tc *TaskContext) error {
		if prev != nil {
			if err := prev(tc); err != nil {
				return err
			}
		}
		return f(tc)
	}
}

// OnTransact appends f to the Transact handler chain.
func (o *Options) OnTransact(f func(tc *TaskContext) error) {
	prev := o.Transact
	o.Transact = func(tc *TaskContext) error {
		if prev != nil {
			if err := prev(tc); err != nil {
				return err
			}
		}
		return f(tc)
	}
}

// OnError appends f to the Error handler chain.
func (o *Options) OnError(f func(err error, e *EventContext) error) {
	prev := o.Error
	o.Error = func(err error, e *EventContext) error {
		if prev != nil {
			if perr := prev(err, e); perr != nil {
				return perr
			}
		}
		return f(err, e)
	}
}

// OnExtend appends f to the Extend handler chain.
func (o *Options) OnExtend(f func(p Protocol) error) {
	prev := o.Extend
	o.Extend = func(p Protocol) error {
		if prev != nil {
			if err := prev(p); err != nil {
				return err
			}
		}
		return f(p)
	}
}
