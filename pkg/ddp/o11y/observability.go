// Package o11y defines the small observability surface the DDP server records
// into. Backends live in sibling packages (otel, prom); tests can supply their
// own implementations.
package o11y

import (
	"context"
)

// MetricsProvider hands out named instruments. Asking for the same name twice
// must return an instrument recording into the same series.
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider starts spans around units of work such as frame dispatch.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter represents a monotonically increasing metric
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records distribution of values
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge represents a value that can go up and down
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span represents a unit of work in a trace
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label is a key-value pair attached to a measurement or span.
type Label struct {
	Key   string
	Value string
}

// L is shorthand for Label{Key: key, Value: value}.
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)
