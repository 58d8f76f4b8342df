// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	httpAdapter "github.com/jobrunner/pipservice/internal/adapters/http"
	"github.com/jobrunner/pipservice/internal/adapters/index"
	"github.com/jobrunner/pipservice/internal/adapters/metrics"
	"github.com/jobrunner/pipservice/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/pipservice/internal/adapters/tls"
	"github.com/jobrunner/pipservice/internal/adapters/watcher"
	"github.com/jobrunner/pipservice/internal/adapters/worker"
	"github.com/jobrunner/pipservice/internal/application"
	"github.com/jobrunner/pipservice/internal/config"
	"github.com/jobrunner/pipservice/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server
	Storage       output.DatasetStore
	Syncer        *application.DatasetSyncer
	Pool          *application.WorkerPool
	Coordinator   *application.Coordinator
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
}

// Options tune how New wires the application.
type Options struct {
	// WorkerArgs are passed to the executable of process workers.
	WorkerArgs []string
}

// New creates and wires a new application. Workers are not started
// until StartWorkers or Start is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("pipservice")
		metricsCollector = app.Metrics
		if cfg.Metrics.Port != 0 {
			app.MetricsServer = metrics.NewServer(
				cfg.Metrics.Address(cfg.Server.Host),
				cfg.Metrics.Path,
				app.Metrics.Handler(),
				logger,
			)
		}
	}

	// Initialize dataset storage
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if store != nil {
		app.Storage = store
		app.Syncer = application.NewDatasetSyncer(store, metricsCollector, logger, cfg.Data.Directory, cfg.Data.Layers)
	}

	// Initialize workers
	launcher, err := initLauncher(cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing workers: %w", err)
	}
	app.Pool = application.NewWorkerPool(launcher, metricsCollector, logger, application.WorkerPoolConfig{
		StartupTimeout: cfg.Workers.StartupTimeout,
		ReloadGrace:    cfg.Workers.ReloadGrace,
	})
	app.Coordinator = application.NewCoordinator(app.Pool, metricsCollector, logger, application.CoordinatorConfig{
		LookupTimeout: cfg.Workers.LookupTimeout,
	})
	app.HealthService = application.NewHealthService(app.Pool, app.Coordinator)

	// Initialize periodic and on-demand sync
	var syncTrigger httpAdapter.SyncTrigger
	if app.Syncer != nil {
		app.SyncService = application.NewSyncService(app.Syncer, app.Pool, cfg.Sync.Interval, logger)
		syncTrigger = app.SyncService
	}

	// Initialize HTTP server
	var middleware []httpAdapter.Middleware
	if app.Metrics != nil {
		middleware = append(middleware, app.Metrics.Middleware)
	}
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.Coordinator,
		app.HealthService,
		syncTrigger,
		logger,
		middleware...,
	)
	if app.Metrics != nil && app.MetricsServer == nil {
		app.HTTPServer.Handle(cfg.Metrics.Path, app.Metrics.Handler())
	}

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Handler(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize dataset watcher for hot-reload. Synced datasets are
	// reloaded by the sync service, so the watcher only serves a data
	// directory used in place.
	switch {
	case cfg.Watch.Enabled && app.Syncer != nil:
		logger.Info("dataset watcher disabled, data directory is managed by storage sync",
			"storage_type", cfg.Storage.Type)
	case cfg.Watch.Enabled:
		w, err := watcher.New(
			watcher.Config{
				Directory: cfg.Data.Directory,
				Layers:    cfg.Data.Layers,
				Debounce:  cfg.Watch.Debounce,
			},
			watcher.ReloadHandler(app.Pool, logger),
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize dataset watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// StartWorkers fetches datasets from storage, if configured, and starts
// one worker per layer. It returns once every layer is loaded.
func (a *App) StartWorkers(ctx context.Context) error {
	if err := application.CheckDataDirectory(a.Config.Data.Directory); err != nil {
		return err
	}

	if a.Syncer != nil {
		changed, err := a.Syncer.Sync(ctx)
		if err != nil {
			return fmt.Errorf("initial dataset sync: %w", err)
		}
		a.Logger.Info("initial dataset sync complete", "layers_changed", changed)
	}

	return a.Pool.Start(ctx, a.Config.Data.Directory, a.Config.Data.Layers)
}

// Start starts the workers and every background component, then serves
// the API until Shutdown is called.
func (a *App) Start(ctx context.Context) error {
	if err := a.StartWorkers(ctx); err != nil {
		return err
	}

	// Start dataset watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start dataset watcher", "error", err)
		}
	}

	// Start periodic sync
	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start server
	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	if err := a.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down all components. Lookups still awaiting
// worker replies are not delivered.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Stop periodic sync
	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	// Shutdown metrics server
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown API server
	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTPS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	// Terminate workers
	a.Coordinator.End()

	return nil
}

// initLauncher selects how layer workers run.
func initLauncher(cfg *config.Config, logger *slog.Logger, opts Options) (output.WorkerLauncher, error) {
	switch cfg.Workers.Mode {
	case config.WorkerModeLocal:
		return worker.NewLocalLauncher(index.NewLoader(logger), logger), nil

	case config.WorkerModeProcess:
		executable := cfg.Workers.Executable
		if executable == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("resolving worker executable: %w", err)
			}
			executable = self
		}
		return worker.NewProcessLauncher(executable, opts.WorkerArgs, logger), nil

	default:
		return nil, fmt.Errorf("unknown worker mode: %s", cfg.Workers.Mode)
	}
}

// initStorage initializes the dataset store. It returns nil when the data
// directory is used in place.
func initStorage(ctx context.Context, cfg *config.Config) (output.DatasetStore, error) {
	sc := cfg.Storage
	switch output.StorageType(sc.Type) {
	case output.StorageTypeLocal:
		if sc.LocalPath == "" || samePath(sc.LocalPath, cfg.Data.Directory) {
			return nil, nil
		}
		return storage.NewLocalStorage(sc.LocalPath), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          sc.S3.Bucket,
			Region:          sc.S3.Region,
			Prefix:          sc.S3.Prefix,
			Endpoint:        sc.S3.Endpoint,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        sc.Azure.Container,
			AccountName:      sc.Azure.AccountName,
			AccountKey:       sc.Azure.AccountKey,
			ConnectionString: sc.Azure.ConnectionString,
			Prefix:           sc.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   sc.HTTP.BaseURL,
			IndexFile: sc.HTTP.IndexFile,
			Timeout:   sc.HTTP.Timeout,
			Username:  sc.HTTP.Username,
			Password:  sc.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", sc.Type)
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
