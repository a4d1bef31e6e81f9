// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/clock/system"
	"github.com/JakeFAU/humancrawl/internal/config"
	"github.com/JakeFAU/humancrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/humancrawl/internal/fetcher/colly"
	"github.com/JakeFAU/humancrawl/internal/learning"
	"github.com/JakeFAU/humancrawl/internal/policy/breaker"
	"github.com/JakeFAU/humancrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/humancrawl/internal/policy/retry"
	"github.com/JakeFAU/humancrawl/internal/sink"
	gcssink "github.com/JakeFAU/humancrawl/internal/sink/gcs"
	"github.com/JakeFAU/humancrawl/internal/sink/memory"
	"github.com/JakeFAU/humancrawl/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/humancrawl/internal/sink/pubsub"
	"github.com/JakeFAU/humancrawl/internal/stats"
	"github.com/JakeFAU/humancrawl/internal/telemetry"
	"github.com/JakeFAU/humancrawl/internal/timing"
)

// App holds the shared services of one process: the crawl session, its
// result sinks and the tracer provider.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *crawler.Orchestrator
	results      *memory.Store
	closers      []func(context.Context) error
}

// Option customises New.
type Option func(*options)

type options struct {
	fetcher crawler.Fetcher
	sinks   []crawler.ResultSink
	source  stats.Source
}

// WithFetcher replaces the colly fetcher (tests use a fake).
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithSinks adds result sinks alongside the configured ones.
func WithSinks(s ...crawler.ResultSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// WithRandomSource pins the randomness behind every behavioral draw.
func WithRandomSource(src stats.Source) Option {
	return func(o *options) { o.source = src }
}

// New builds every service from cfg. It fails fast when a configured sink
// cannot be reached; anything already opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var tracerOpts []collyfetcher.Option
	if cfg.Tracing.Enabled {
		tp, terr := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if terr != nil {
			return nil, fmt.Errorf("init tracing: %w", terr)
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return shutdownTracer(ctx, tp) })
		tracerOpts = append(tracerOpts, collyfetcher.WithTracing(tp))
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher, err = newFetcher(cfg, logger, tracerOpts)
		if err != nil {
			return nil, err
		}
	}

	results := memory.New(cfg.Sink.MemoryCapacity)
	a.results = results
	sinks := sink.Multi{results}
	if cfg.Sink.PostgresDSN != "" {
		store, perr := postgres.New(ctx, postgres.Config{DSN: cfg.Sink.PostgresDSN, Table: cfg.Sink.Table})
		if perr != nil {
			return nil, fmt.Errorf("init postgres sink: %w", perr)
		}
		a.closers = append(a.closers, func(context.Context) error { store.Close(); return nil })
		if cfg.Sink.EnsureSchema {
			if serr := store.EnsureSchema(ctx); serr != nil {
				return nil, fmt.Errorf("ensure results schema: %w", serr)
			}
		}
		logger.Info("postgres result sink enabled", zap.String("table", cfg.Sink.Table))
		sinks = append(sinks, store)
	}
	if cfg.Sink.PubSubProject != "" {
		client, cerr := pubsub.NewClient(ctx, cfg.Sink.PubSubProject)
		if cerr != nil {
			return nil, fmt.Errorf("init pubsub client: %w", cerr)
		}
		publisher := pubsubsink.New(client.Topic(cfg.Sink.PubSubTopic))
		a.closers = append(a.closers, func(context.Context) error {
			publisher.Close()
			return client.Close()
		})
		logger.Info("pubsub result sink enabled", zap.String("topic", cfg.Sink.PubSubTopic))
		sinks = append(sinks, publisher)
	}
	if cfg.Sink.GCSBucket != "" {
		archive, gerr := gcssink.Open(ctx, gcssink.Config{Bucket: cfg.Sink.GCSBucket, Prefix: cfg.Sink.GCSPrefix}, logger.Named("gcs"))
		if gerr != nil {
			return nil, fmt.Errorf("init gcs body archive: %w", gerr)
		}
		a.closers = append(a.closers, func(context.Context) error { return archive.Close() })
		logger.Info("gcs body archive enabled", zap.String("bucket", cfg.Sink.GCSBucket))
		sinks = append(sinks, archive)
	}
	sinks = append(sinks, o.sinks...)

	a.orchestrator, err = newOrchestrator(cfg, logger, fetcher, sinks, o.source)
	if err != nil {
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("session", a.orchestrator.Session().ID),
		zap.String("profile", string(a.orchestrator.Session().Profile.Name)),
		zap.String("stealth", string(a.orchestrator.StealthLevel())),
	)
	return a, nil
}

func newFetcher(cfg config.Config, logger *zap.Logger, extra []collyfetcher.Option) (crawler.Fetcher, error) {
	fopts := append([]collyfetcher.Option{collyfetcher.WithLogger(logger.Named("fetcher"))}, extra...)
	if len(cfg.HTTP.Proxies) > 0 {
		pool, err := collyfetcher.NewRoundRobinPool(cfg.HTTP.Proxies)
		if err != nil {
			return nil, fmt.Errorf("init proxy pool: %w", err)
		}
		fopts = append(fopts, collyfetcher.WithProxyPool(pool))
	}
	f, err := collyfetcher.New(cfg.FetcherConfig(), fopts...)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return f, nil
}

func newOrchestrator(
	cfg config.Config,
	logger *zap.Logger,
	fetcher crawler.Fetcher,
	sinks crawler.ResultSink,
	src stats.Source,
) (*crawler.Orchestrator, error) {
	if src == nil {
		src = stats.NewSource()
	}
	sampler := stats.NewSampler(src)
	clock := system.New()
	session := behavior.NewSession(sampler, clock.Now())
	learner := learning.NewLearner(cfg.LearningConfig(), sampler)

	orch, err := crawler.New(crawler.Dependencies{
		Fetcher:                fetcher,
		Breakers:               breaker.New(cfg.BreakerConfig(), clock, logger.Named("breaker")),
		Limiter:                ratelimit.New(cfg.RateLimitConfig(), ratelimit.WithClock(clock)),
		Retry:                  retry.New(cfg.RetryConfig()),
		Session:                session,
		Learner:                learner,
		Pacer:                  timing.New(timing.DefaultConfig(), session, sampler, learner, clock),
		Sampler:                sampler,
		Sink:                   sinks,
		Clock:                  clock,
		Logger:                 logger.Named("crawler"),
		UserAgent:              cfg.HTTP.UserAgent,
		KeyByRegistrableDomain: cfg.RateLimit.KeyByRegistrableDomain,
		StealthLevel:           cfg.StealthLevel(),
	})
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, nil
}

func shutdownTracer(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator returns the crawl session.
func (a *App) Orchestrator() *crawler.Orchestrator {
	return a.orchestrator
}

// Results returns the in-memory result history.
func (a *App) Results() *memory.Store {
	return a.results
}

// Close releases sinks and flushes tracing in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error shutting down application services", zap.Error(err))
		return err
	}
	return nil
}
