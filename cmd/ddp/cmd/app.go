package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp"
	"github.com/tsarna/ddp/pkg/ddp/collection"
	"github.com/tsarna/ddp/pkg/ddp/config"
	"github.com/tsarna/ddp/pkg/ddp/otel"
	"github.com/tsarna/ddp/pkg/ddp/prom"
	"github.com/tsarna/ddp/pkg/ddp/websocket"
)

// app is a DDP server assembled from a configuration: a WebSocket listener,
// the built-in methods, and the configured publications.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	listener *websocket.Listener
	server   *ddp.Server
	router   *ddp.PublicationRouter
	clocks   []*clockFeed
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		router: ddp.NewPublicationRouter(),
	}

	listenerConfig := websocket.NewListenerConfig().
		WithAddress(cfg.Listen).
		WithPath(cfg.Path).
		WithLogger(logger).
		WithOriginPatterns(cfg.OriginPatterns...).
		WithPingInterval(cfg.PingInterval)
	if cfg.ReadLimit > 0 {
		listenerConfig.WithReadLimit(cfg.ReadLimit)
	}

	serverConfig := ddp.NewServerConfig().WithLogger(logger)
	if cfg.WriteTimeout > 0 {
		serverConfig.WithWriteTimeout(cfg.WriteTimeout)
	}

	switch cfg.Metrics.Provider {
	case config.MetricsPrometheus:
		registry := prometheus.NewRegistry()
		serverConfig.WithMetricsProvider(prom.NewProvider(
			prom.WithNamespace(cfg.Metrics.Namespace),
			prom.WithRegistry(registry),
		))
		listenerConfig.WithHandler(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	case config.MetricsOtel:
		provider := otel.NewProvider("ddp", version)
		serverConfig.WithMetricsProvider(provider).WithTracingProvider(provider)
	}

	listener, err := listenerConfig.Build()
	if err != nil {
		return nil, err
	}
	a.listener = listener

	server, err := serverConfig.WithTransport(listener).Build()
	if err != nil {
		return nil, err
	}
	a.server = server

	registerMethods(server.Handlers, server)

	for _, clock := range cfg.Clocks {
		feed, err := newClockFeed(clock, logger)
		if err != nil {
			return nil, err
		}
		a.clocks = append(a.clocks, feed)
		a.router.Publish(clock.Name, feed.publish)
	}
	for _, pub := range cfg.Publications {
		a.router.Publish(pub.Name, staticPublication(pub))
	}
	a.router.Register(server.Handlers)

	server.OnConnected(func(s *ddp.Session) {
		s.Logger().Info("Session connected", zap.String("remote_addr", s.RemoteAddr()))
	})
	server.OnDisconnected(func(s *ddp.Session) {
		s.Logger().Info("Session disconnected", zap.Duration("connected_for", time.Since(s.ConnectedAt())))
	})

	return a, nil
}

func (a *app) Start(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	for _, feed := range a.clocks {
		feed.cron.Start()
	}
	a.logger.Info("Listening",
		zap.Stringer("address", a.listener.Addr()),
		zap.String("path", a.cfg.Path),
		zap.String("metrics", a.cfg.Metrics.Provider),
	)
	return nil
}

func (a *app) Stop(ctx context.Context) error {
	for _, feed := range a.clocks {
		<-feed.cron.Stop().Done()
	}
	return a.server.Stop(ctx)
}

func (a *app) Addr() net.Addr {
	return a.listener.Addr()
}

// registerMethods installs the methods every server answers.
// sum adds the numbers in an array, or the values of an object such as
// {"x": 1, "y": 2}. Missing params sum to 0.
func sum(params any) (float64, error) {
	var values []any
	switch p := params.(type) {
	case nil:
	case []any:
		values = p
	case map[string]any:
		for _, v := range p {
			values = append(values, v)
		}
	default:
		return 0, errors.New("sum takes an array or object of numbers")
	}

	var total float64
	for _, v := range values {
		n, ok := v.(float64)
		if !ok {
			return 0, errors.New("sum takes numbers")
		}
		total += n
	}
	return total, nil
}

func registerMethods(h *ddp.Handlers, srv *ddp.Server) {
	h.Method("echo", func(s *ddp.Session, id string, params any) {
		s.SendResult(id, params)
	})

	h.Method("sum", func(s *ddp.Session, id string, params any) {
		total, err := sum(params)
		if err != nil {
			s.SendError(id, ddp.NewError("400", err.Error()))
			return
		}
		s.SendResult(id, total)
	})

	h.Method("sessions", func(s *ddp.Session, id string, params any) {
		s.SendResult(id, srv.SessionCount())
	})
}

// staticPublication serves a fixed set of documents.
func staticPublication(pub config.PublicationConfig) ddp.PublicationFunc {
	ids := make([]string, 0, len(pub.Documents))
	for id := range pub.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return func(sub *ddp.Subscription) func() {
		view := collection.NewView(sub.Session, pub.Collection)
		for _, id := range ids {
			if err := view.Set(id, pub.Documents[id]); err != nil {
				sub.Fail(err)
				return view.Clear
			}
		}
		sub.Ready()
		return view.Clear
	}
}

// clockFeed publishes a single document holding the time of the last tick
// to every subscriber, on a cron schedule.
type clockFeed struct {
	cfg    config.ClockConfig
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu    sync.Mutex
	views map[*collection.View]struct{}
	last  time.Time
}

const clockDocumentID = "now"

func newClockFeed(clock config.ClockConfig, logger *zap.Logger) (*clockFeed, error) {
	logger = logger.With(zap.String("clock", clock.Name))
	feed := &clockFeed{
		cfg:    clock,
		logger: logger,
		now:    time.Now,
		views:  make(map[*collection.View]struct{}),
	}

	location := clock.Location
	if location == nil {
		location = time.Local
	}
	feed.cron = cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLocation(location),
		cron.WithLogger(newCronLogger(logger)),
	)
	if _, err := feed.cron.AddFunc(clock.Schedule, feed.tick); err != nil {
		return nil, fmt.Errorf("clock %s: %w", clock.Name, err)
	}
	return feed, nil
}

func (f *clockFeed) publish(sub *ddp.Subscription) func() {
	view := collection.NewView(sub.Session, f.cfg.Collection)

	f.mu.Lock()
	f.views[view] = struct{}{}
	if f.last.IsZero() {
		f.last = f.now()
	}
	err := view.Set(clockDocumentID, f.document(f.last))
	f.mu.Unlock()

	if err != nil {
		sub.Fail(err)
	} else {
		sub.Ready()
	}

	return func() {
		f.mu.Lock()
		delete(f.views, view)
		f.mu.Unlock()
		view.Clear()
	}
}

func (f *clockFeed) tick() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last = f.now()
	doc := f.document(f.last)
	for view := range f.views {
		if err := view.Set(clockDocumentID, doc); err != nil {
			f.logger.Warn("Failed to update clock document", zap.Error(err))
		}
	}
}

func (f *clockFeed) document(t time.Time) map[string]any {
	t = t.In(f.cron.Location())
	return map[string]any{
		"time":     t.Format(time.RFC3339Nano),
		"epoch_ms": float64(t.UnixMilli()),
	}
}

func (f *clockFeed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.views)
}

// cronLogger adapts a zap.Logger to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

var _ cron.Logger = cronLogger{}

func newCronLogger(logger *zap.Logger) cronLogger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keyValueFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keyValueFields(keysAndValues), zap.Error(err))...)
}

func keyValueFields(keysAndValues []any) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}
