package hooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fernandezvara/pgkit"
)

// metrics holds the Prometheus collectors fed by lifecycle events.
type metrics struct {
	queryTotal    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
	rowsReceived  prometheus.Counter
	queryDuration *prometheus.HistogramVec
	taskDuration  *prometheus.HistogramVec
}

// Metrics returns an option that collects Prometheus metrics from lifecycle
// events, registering the collectors with registry.
func Metrics(registry prometheus.Registerer) (pgkit.Option, error) {
	m := &metrics{
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgkit_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgkit_errors_total",
				Help: "Total number of errors surfaced by the database layer",
			},
			[]string{"code"},
		),
		rowsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pgkit_rows_received_total",
				Help: "Total number of rows delivered to callers",
			},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgkit_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgkit_task_duration_seconds",
				Help:    "Duration of tasks and transactions in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind", "outcome"},
		),
	}

	// Register metrics
	collectors := []prometheus.Collector{
		m.queryTotal, m.queryErrors, m.rowsReceived, m.queryDuration, m.taskDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			// Check if already registered
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return func(cfg *pgkit.Config) {
		cfg.Hooks.OnQuery(func(e *pgkit.EventContext) error {
			m.queryTotal.WithLabelValues(OperationType(e.Query)).Inc()
			return nil
		})

		cfg.Hooks.OnReceive(func(data []pgkit.Row, res *pgkit.Result, e *pgkit.EventContext) error {
			m.rowsReceived.Add(float64(len(data)))
			if res != nil {
				m.queryDuration.WithLabelValues(OperationType(e.Query)).Observe(res.Duration.Seconds())
			}
			return nil
		})

		cfg.Hooks.OnError(func(err error, e *pgkit.EventContext) error {
			code, ok := pgkit.GetErrorCode(err)
			if !ok {
				code = pgkit.CodeUnknown
			}
			m.queryErrors.WithLabelValues(string(code)).Inc()
			return nil
		})

		cfg.Hooks.OnTask(m.observeTask("task"))
		cfg.Hooks.OnTransact(m.observeTask("transaction"))
	}, nil
}

func (m *metrics) observeTask(kind string) func(tc *pgkit.TaskContext) error {
	return func(tc *pgkit.TaskContext) error {
		out, finished := tc.Outcome()
		if !finished {
			return nil
		}
		outcome := "success"
		if !out.Success {
			outcome = "failure"
		}
		m.taskDuration.WithLabelValues(kind, outcome).Observe(tc.Duration().Seconds())
		return nil
	}
}
