// Package application assembles the import service from configuration:
// schema registry, record store, metrics and the core service. The HTTP
// server and the importctl CLI both start from New.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/metrics"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store/memory"
	"github.com/JonMunkholm/tabimport/internal/store/postgres"
	"github.com/JonMunkholm/tabimport/internal/store/sqlite"
)

// App is a wired import service.
type App struct {
	Config   *config.Config
	Registry *schema.Registry
	Store    core.Store
	Service  *core.Service

	// Metrics is nil unless WithMetrics was given.
	Metrics *metrics.Metrics

	ping  func(context.Context) error
	close func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	logger   *slog.Logger
}

// WithMetrics registers import metrics with reg and observes every import.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger sets the service logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds an App from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := LoadRegistry(cfg.Import.SchemaFile)
	if err != nil {
		return nil, err
	}

	store, ping, closeFn, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Registry: registry,
		Store:    store,
		ping:     ping,
		close:    closeFn,
	}

	svcOpts := []core.ServiceOption{core.WithLogger(o.logger)}
	if o.registry != nil {
		// The gauge is only sampled on scrape, after Service is set.
		m, err := metrics.New(o.registry, func() float64 {
			return float64(app.Service.LimiterStatus().Active)
		})
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		app.Metrics = m
		svcOpts = append(svcOpts, core.WithObserver(m))
	}

	app.Service, err = core.NewService(registry, store, ServiceConfig(cfg.Import), svcOpts...)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	o.logger.Info("import service ready",
		"store", cfg.Store.Driver,
		"entities", registry.Count(),
		"max_concurrent", cfg.Import.MaxConcurrent,
	)
	return app, nil
}

// Ping checks the store connection. Stores without a connection always
// succeed.
func (a *App) Ping(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// Close releases the store.
func (a *App) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// ServiceConfig translates import settings into service tunables.
func ServiceConfig(c config.ImportConfig) core.ServiceConfig {
	return core.ServiceConfig{
		ChunkSize:        c.ChunkSize,
		SuggestThreshold: c.SuggestThreshold,
		AutoMapThreshold: c.AutoMapThreshold,
		SampleSize:       c.SampleSize,
		Timeout:          c.Timeout,
		ResultRetention:  c.ResultRetention,
		MaxConcurrent:    c.MaxConcurrent,
		MaxWaitTime:      c.MaxWaitTime,
	}
}

// LoadRegistry returns the built-in schemas, overlaid with the schemas in
// path when it is set. A file schema replaces a built-in one of the same
// entity.
func LoadRegistry(path string) (*schema.Registry, error) {
	registry := schema.Builtin()
	if path == "" {
		return registry, nil
	}

	schemas, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	for _, s := range schemas {
		if _, exists := registry.Get(s.Entity()); exists {
			slog.Info("schema file overrides built-in entity", "entity", s.Entity(), "file", path)
		}
		registry.Replace(s)
	}
	return registry, nil
}

// OpenStore opens the configured record store. ping and closeFn may be nil.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store core.Store, ping func(context.Context) error, closeFn func() error, err error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return memory.New(), nil, nil, nil

	case "sqlite", "":
		s, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, s.Close, nil

	case "postgres", "postgresql":
		s, err := postgres.Open(ctx, cfg.URL, postgres.PoolConfig{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, nil, err
		}
		closePool := func() error {
			s.Close()
			return nil
		}
		return s, s.Ping, closePool, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
