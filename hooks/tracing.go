package hooks

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fernandezvara/pgkit"
)

// Tracing returns an option that opens one OpenTelemetry span per task or
// transaction, ended when the context settles. Spans are keyed by the
// context ID, so concurrent chains never collide.
func Tracing(tracer trace.Tracer) pgkit.Option {
	t := &tracingObserver{tracer: tracer}
	return func(cfg *pgkit.Config) {
		cfg.Hooks.OnTask(t.observe("db.task"))
		cfg.Hooks.OnTransact(t.observe("db.transaction"))
		cfg.Hooks.OnError(t.recordError)
	}
}

type tracingObserver struct {
	tracer trace.Tracer
	spans  sync.Map // uuid.UUID -> trace.Span
}

func (t *tracingObserver) observe(name string) func(tc *pgkit.TaskContext) error {
	return func(tc *pgkit.TaskContext) error {
		if t.tracer == nil {
			return nil
		}

		out, finished := tc.Outcome()
		if !finished {
			attrs := []attribute.KeyValue{
				attribute.String("db.system", "postgresql"),
				attribute.Int("db.nesting_depth", tc.Depth()),
			}
			if tc.Tag != nil {
				attrs = append(attrs, attribute.String("db.tag", fmt.Sprint(tc.Tag)))
			}
			_, span := t.tracer.Start(context.Background(), name,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...),
			)
			t.spans.Store(tc.ID, span)
			return nil
		}

		v, ok := t.spans.LoadAndDelete(tc.ID)
		if !ok {
			return nil
		}
		span := v.(trace.Span)
		if out.Success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, fmt.Sprint(out.Result))
		}
		span.End()
		return nil
	}
}

func (t *tracingObserver) recordError(err error, e *pgkit.EventContext) error {
	if e == nil || e.Task == nil {
		return nil
	}
	if v, ok := t.spans.Load(e.Task.ID); ok {
		v.(trace.Span).RecordError(err)
	}
	return nil
}
