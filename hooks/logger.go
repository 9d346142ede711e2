// Package hooks provides observability observers for pgkit lifecycle events
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fernandezvara/pgkit"
)

// Logging returns an option that logs queries, received rows, task and
// transaction lifecycles and surfaced errors through the given logger.
// Queries slower than slowThreshold are logged at warn level (0 disables
// slow-query detection).
func Logging(logger *slog.Logger, slowThreshold time.Duration) pgkit.Option {
	return func(cfg *pgkit.Config) {
		cfg.Hooks.OnQuery(func(e *pgkit.EventContext) error {
			logger.Debug("database query",
				slog.String("operation", OperationType(e.Query)),
				slog.String("query", truncateQuery(e.Query)),
			)
			return nil
		})

		cfg.Hooks.OnReceive(func(data []pgkit.Row, res *pgkit.Result, e *pgkit.EventContext) error {
			if res == nil {
				return nil
			}
			if slowThreshold > 0 && res.Duration >= slowThreshold {
				logger.Warn("slow database query",
					slog.String("operation", OperationType(e.Query)),
					slog.String("query", truncateQuery(e.Query)),
					slog.Duration("duration", res.Duration),
					slog.Int("rows", res.Rows),
				)
			}
			return nil
		})

		cfg.Hooks.OnTask(taskLogger(logger, "task"))
		cfg.Hooks.OnTransact(taskLogger(logger, "transaction"))

		cfg.Hooks.OnError(func(err error, e *pgkit.EventContext) error {
			attrs := []slog.Attr{
				slog.String("error", err.Error()),
			}
			if e != nil && e.Query != "" {
				attrs = append(attrs, slog.String("query", truncateQuery(e.Query)))
			}
			if e != nil && e.Task != nil {
				attrs = append(attrs, slog.String("context", fmt.Sprint(e.Task.Tag)))
			}
			logger.LogAttrs(context.Background(), slog.LevelError, "database error", attrs...)
			return nil
		})
	}
}

// taskLogger logs the start and finish notifications of tasks/transactions.
func taskLogger(logger *slog.Logger, kind string) func(tc *pgkit.TaskContext) error {
	return func(tc *pgkit.TaskContext) error {
		attrs := []slog.Attr{
			slog.String("id", tc.ID.String()),
			slog.Int("depth", tc.Depth()),
		}
		if tc.Tag != nil {
			attrs = append(attrs, slog.String("tag", fmt.Sprint(tc.Tag)))
		}

		out, finished := tc.Outcome()
		if !finished {
			logger.LogAttrs(context.Background(), slog.LevelDebug, kind+" started", attrs...)
			return nil
		}

		attrs = append(attrs,
			slog.Duration("duration", tc.Duration()),
			slog.Bool("success", out.Success),
		)
		if out.Success {
			logger.LogAttrs(context.Background(), slog.LevelDebug, kind+" finished", attrs...)
		} else {
			logger.LogAttrs(context.Background(), slog.LevelWarn, kind+" failed", attrs...)
		}
		return nil
	}
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// OperationType extracts the operation type from a query
func OperationType(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))
	switch {
	case strings.HasPrefix(query, "SELECT"):
		return "select"
	case strings.HasPrefix(query, "INSERT"):
		return "insert"
	case strings.HasPrefix(query, "UPDATE"):
		return "update"
	case strings.HasPrefix(query, "DELETE"):
		return "delete"
	case strings.HasPrefix(query, "CREATE"):
		return "create"
	case strings.HasPrefix(query, "DROP"):
		return "drop"
	case strings.HasPrefix(query, "ALTER"):
		return "alter"
	case strings.HasPrefix(query, "BEGIN"):
		return "begin"
	case strings.HasPrefix(query, "COMMIT"):
		return "commit"
	case strings.HasPrefix(query, "ROLLBACK"):
		return "rollback"
	case strings.HasPrefix(query, "SAVEPOINT"):
		return "savepoint"
	case strings.HasPrefix(query, "RELEASE"):
		return "release"
	default:
		return "other"
	}
}
