// Package app wires the judge service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"fujudge/internal/common/cache"
	"fujudge/internal/common/mq"
	"fujudge/internal/common/storage"
	"fujudge/internal/judge/config"
	"fujudge/internal/judge/fixture"
	"fujudge/internal/judge/repository"
	"fujudge/internal/judge/sandbox/checker"
	"fujudge/internal/judge/sandbox/compiler"
	"fujudge/internal/judge/sandbox/observer"
	"fujudge/internal/judge/service"
	"fujudge/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App holds the judge service and the clients it was built from.
type App struct {
	Config   *config.Config
	Service  *service.Service
	Checker  checker.Checker
	Compiler *compiler.Compiler
	Registry *prometheus.Registry

	closers []func() error
	checks  []healthCheck
}

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// Option adjusts what New wires.
type Option func(*options)

type options struct {
	skipRemote bool
}

// WithoutRemote skips Redis, Kafka and MinIO even when configured.
func WithoutRemote() Option {
	return func(o *options) { o.skipRemote = true }
}

// New builds the judge service. Redis, Kafka and MinIO are wired only when
// their sections are configured.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	chk, err := checker.Load(cfg.Checker.Dir, cfg.Checker.Name)
	if err != nil {
		return nil, err
	}
	a.Checker = chk
	if a.Compiler, err = cfg.Compiler.Build(); err != nil {
		return nil, err
	}

	sampler, err := observer.NewProcSampler(observer.MemoryMetric(cfg.Judge.MemoryMetric))
	if err != nil {
		return nil, err
	}
	svcCfg := service.Config{
		Checker:              chk,
		Sampler:              sampler,
		SampleInterval:       cfg.Judge.SampleInterval,
		Concurrency:          cfg.Judge.Concurrency,
		MaxRuns:              cfg.Judge.MaxRuns,
		QueueWait:            cfg.Judge.QueueWait,
		KeepRunningOnTimeout: !cfg.Judge.ShouldKillOnTimeout(),
		StatusTimeout:        cfg.Status.Timeout,
	}

	if cfg.Metrics.IsEnabled() {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := observer.NewPrometheusRecorder(a.Registry, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		svcCfg.Metrics = recorder
	}

	var fixtureOpts []fixture.Option
	var store storage.ObjectStorage
	if !o.skipRemote && cfg.RedisEnabled() {
		redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisCache.Close)
		a.checks = append(a.checks, healthCheck{name: "redis", ping: redisCache.Ping})
		svcCfg.StatusRepo = repository.NewStatusRepository(redisCache, cfg.Status.TTL)
		fixtureOpts = append(fixtureOpts, fixture.WithLock(redisCache, cfg.Fixture.LockTTL, cfg.Fixture.LockWait))
		logger.Info(ctx, "redis status store enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if !o.skipRemote && cfg.Kafka.Enabled() {
		producer, err := mq.NewKafkaProducer(cfg.Kafka.ToMQConfig())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		a.checks = append(a.checks, healthCheck{name: "kafka", ping: producer.Ping})
		// Final events are best effort, so an unreachable broker only warns.
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Status.Timeout)
		if err := producer.Ping(pingCtx); err != nil {
			logger.Warn(ctx, "kafka broker unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		cancel()
		svcCfg.Publisher = repository.NewMQStatusEventPublisher(producer, cfg.Status.FinalTopic)
		logger.Info(ctx, "kafka status events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Status.FinalTopic))
	}
	if !o.skipRemote && cfg.MinIOEnabled() {
		minioStore, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		store = minioStore
		logger.Info(ctx, "object storage fixtures enabled", zap.String("endpoint", cfg.MinIO.Endpoint))
	}
	svcCfg.Fetcher = fixture.NewFetcher(cfg.Fixture.CacheRoot, store, fixtureOpts...)

	if a.Service, err = service.NewService(svcCfg); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// LoadChecker loads a checker from the configured checker directory.
func (a *App) LoadChecker(name string) (checker.Checker, error) {
	return checker.Load(a.Config.Checker.Dir, name)
}

// MetricsHandler serves the registry, or nil when metrics are disabled.
func (a *App) MetricsHandler() http.Handler {
	if a.Registry == nil {
		return nil
	}
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
}

// Ping checks every remote client New wired.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	for _, check := range a.checks {
		if err := check.ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", check.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the clients in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
