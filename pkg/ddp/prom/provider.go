// Package prom provides a Prometheus implementation of the ddp
// MetricsProvider interface.
package prom

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tsarna/ddp/pkg/ddp/o11y"
)

// Config configures a Provider.
type Config struct {
	// Namespace is prefixed to every metric name (default: "").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Provider.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Provider hands out Prometheus collectors. Each instrument is registered
// lazily: the label names of the first measurement fix the label set of the
// metric, and later measurements with different label names are dropped.
type Provider struct {
	config  Config
	factory promauto.Factory

	mu          sync.Mutex
	instruments map[string]any
}

var _ o11y.MetricsProvider = (*Provider)(nil)

// NewProvider creates a provider with the given options.
func NewProvider(opts ...Option) *Provider {
	config := Config{
		Buckets:  prometheus.DefBuckets,
		Registry: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &Provider{
		config:      config,
		factory:     promauto.With(config.Registry),
		instruments: make(map[string]any),
	}
}

func (p *Provider) Counter(name string) o11y.Counter {
	return instrument(p, name, func() *counter { return &counter{p: p, name: name} })
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	return instrument(p, name, func() *histogram { return &histogram{p: p, name: name} })
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	return instrument(p, name, func() *gauge { return &gauge{p: p, name: name} })
}

// instrument returns the existing instrument for name, so asking twice
// records into the same series.
func instrument[T any](p *Provider, name string, create func() T) T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.instruments[name].(T); ok {
		return existing
	}
	created := create()
	p.instruments[name] = created
	return created
}

func split(labels []o11y.Label) ([]string, prometheus.Labels) {
	names := make([]string, len(labels))
	values := make(prometheus.Labels, len(labels))
	for i, label := range labels {
		names[i] = label.Key
		values[label.Key] = label.Value
	}
	return names, values
}

type counter struct {
	p    *Provider
	name string

	once sync.Once
	vec  *prometheus.CounterVec
}

func (c *counter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	names, values := split(labels)
	c.once.Do(func() {
		c.vec = c.p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   c.p.config.Namespace,
			Name:        c.name,
			Help:        c.name,
			ConstLabels: c.p.config.ConstLabels,
		}, names)
	})

	m, err := c.vec.GetMetricWith(values)
	if err != nil {
		return
	}
	m.Add(float64(value))
}

type histogram struct {
	p    *Provider
	name string

	once sync.Once
	vec  *prometheus.HistogramVec
}

func (h *histogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	names, values := split(labels)
	h.once.Do(func() {
		h.vec = h.p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   h.p.config.Namespace,
			Name:        h.name,
			Help:        h.name,
			ConstLabels: h.p.config.ConstLabels,
			Buckets:     h.p.config.Buckets,
		}, names)
	})

	m, err := h.vec.GetMetricWith(values)
	if err != nil {
		return
	}
	m.Observe(value)
}

type gauge struct {
	p    *Provider
	name string

	once sync.Once
	vec  *prometheus.GaugeVec
}

func (g *gauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	names, values := split(labels)
	g.once.Do(func() {
		g.vec = g.p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   g.p.config.Namespace,
			Name:        g.name,
			Help:        g.name,
			ConstLabels: g.p.config.ConstLabels,
		}, names)
	})

	m, err := g.vec.GetMetricWith(values)
	if err != nil {
		return
	}
	m.Set(value)
}
