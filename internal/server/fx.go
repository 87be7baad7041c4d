// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/api"
	"github.com/snapbooks-app/geticon/internal/cache"
	"github.com/snapbooks-app/geticon/internal/clock/system"
	"github.com/snapbooks-app/geticon/internal/config"
	"github.com/snapbooks-app/geticon/internal/discovery"
	collyfetcher "github.com/snapbooks-app/geticon/internal/fetcher/colly"
	"github.com/snapbooks-app/geticon/internal/hash/sha256"
	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/id/uuid"
	"github.com/snapbooks-app/geticon/internal/logging"
	"github.com/snapbooks-app/geticon/internal/policy/ratelimit"
	memorypublisher "github.com/snapbooks-app/geticon/internal/publisher/memory"
	gcppublisher "github.com/snapbooks-app/geticon/internal/publisher/pubsub"
	"github.com/snapbooks-app/geticon/internal/recorder"
	"github.com/snapbooks-app/geticon/internal/resolver"
	gcsstorage "github.com/snapbooks-app/geticon/internal/storage/gcs"
	localstorage "github.com/snapbooks-app/geticon/internal/storage/local"
	memorystorage "github.com/snapbooks-app/geticon/internal/storage/memory"
	pgstore "github.com/snapbooks-app/geticon/internal/storage/postgres"
	"github.com/snapbooks-app/geticon/internal/telemetry"
	"github.com/snapbooks-app/geticon/internal/validate"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	version         string
	logger          *zap.Logger
	icons           *cache.Cache
	apiServer       *api.Server
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	resolutionStore *pgstore.ResolutionStore
	tracerShutdown  func(context.Context) error
	closeOnce       sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, version string) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, version, logger)
}

// BuildWithLogger is Build with a caller supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, version string, logger *zap.Logger) (*App, error) {
	app := &App{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
		zap.String("pubsub_topic", cfg.PubSub.TopicName),
	)

	if cfg.Telemetry.TracingEnabled {
		serviceVersion := cfg.Telemetry.ServiceVersion
		if version != "" {
			serviceVersion = version
		}
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: serviceVersion,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
		logger.Info("tracing enabled", zap.Float64("sample_ratio", cfg.Telemetry.SampleRatio))
	}

	rec, err := setupRecorder(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	hasher := sha256.New()
	var sink icon.ResolutionSink
	if rec.Enabled() {
		sink = rec
	}
	app.icons, err = cache.New(
		setupResolver(app),
		system.New(),
		hasher,
		cache.Config{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries},
		sink,
		logger.Named("cache"),
	)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.apiServer = api.NewServer(app.icons, hasher, api.Options{
		RequestTimeout: cfg.RequestTimeout(),
		Version:        version,
		Ready:          app.ready,
	}, logger.Named("api"))

	return app, nil
}

// Icons exposes the cached resolution service.
func (a *App) Icons() *cache.Cache {
	return a.icons
}

// Resolve runs one request through the cache, as the HTTP handlers do.
func (a *App) Resolve(ctx context.Context, request icon.Request) (cache.Entry, error) {
	return a.icons.Resolve(ctx, request)
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port), zap.String("version", a.version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close waits for in-flight recordings and releases clients. Calls after the first are
// no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.icons != nil {
			a.icons.Close()
		}
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.resolutionStore == nil {
		return nil
	}
	if err := a.resolutionStore.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.resolutionStore.Close()
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func setupResolver(app *App) *resolver.Resolver {
	cfg := app.cfg
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Fetch.PerHostRPS,
		DefaultBurst: cfg.Fetch.PerHostBurst,
	})
	if cfg.Fetch.PerHostRPS > 0 {
		app.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", cfg.Fetch.PerHostRPS),
			zap.Int("burst", cfg.Fetch.PerHostBurst),
		)
	}
	if cfg.Fetch.InsecureSkipVerify {
		app.logger.Warn("TLS certificate verification is disabled for outbound fetches")
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		Timeout:            cfg.FetchTimeout(),
		MaxRedirects:       cfg.Fetch.MaxRedirects,
		MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
		InsecureSkipVerify: cfg.Fetch.InsecureSkipVerify,
		ForwardHeaders:     cfg.Fetch.ForwardHeaders,
		Limiter:            limiter,
	}, app.logger.Named("fetcher"))

	return resolver.New(
		discovery.New(fetcher, app.logger.Named("discovery")),
		fetcher,
		validate.New(validate.Config{MaxDimension: cfg.Resolver.MaxImageDimension}),
		resolver.Config{
			ValidateParallelism: cfg.Resolver.ValidateParallelism,
			Retry:               resolver.NewExponentialRetryPolicy(cfg.Fetch.MaxAttempts),
		},
		app.logger.Named("resolver"),
	)
}

func setupRecorder(ctx context.Context, app *App) (*recorder.Recorder, error) {
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	// Typed nils must not reach the recorder, which treats a nil interface as disabled.
	var store icon.ResolutionStore
	if app.resolutionStore != nil {
		store = app.resolutionStore
	}
	rec := recorder.New(
		recorder.Config{Prefix: app.cfg.Storage.Prefix, Topic: app.cfg.PubSub.TopicName},
		blobs,
		store,
		publisher,
		uuid.New(),
		app.logger.Named("recorder"),
	)
	if !rec.Enabled() {
		app.logger.Info("no recording backends configured")
	}
	return rec, nil
}

func setupStorage(ctx context.Context, app *App) (icon.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobStore, nil
	case config.StorageMemory:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("icon archiving disabled")
		return nil, nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Info("no DSN specified for database, skipping resolution store")
		return nil
	}
	store, err := pgstore.NewResolutionStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("resolution store init failed: %w", err)
	}
	app.resolutionStore = store
	app.logger.Info("resolution store initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (icon.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, keeping resolution events in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client.Publisher(app.cfg.PubSub.TopicName))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}
