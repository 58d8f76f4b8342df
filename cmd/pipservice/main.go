// Package main provides the entry point for the pipservice point-in-polygon service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/pipservice/internal/adapters/index"
	"github.com/jobrunner/pipservice/internal/adapters/worker"
	"github.com/jobrunner/pipservice/internal/app"
	"github.com/jobrunner/pipservice/internal/config"
	"github.com/jobrunner/pipservice/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// exitDataDirectory is the exit status for a missing data directory.
const exitDataDirectory = 2

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, domain.ErrDataDirectory) {
			os.Exit(exitDataDirectory)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipservice",
	Short: "pipservice - point-in-polygon lookup service",
	Long: `pipservice answers "which administrative regions contain this point?"

Every configured layer (country, region, ...) is indexed by its own worker.
A lookup fans out to the requested layers and, when nothing matches or the
country is missing, asks the country worker once more before answering.

Features:
  - One isolated worker per layer (child process or goroutine)
  - GeoJSON and SQLite layer datasets
  - Dataset sync from local, AWS S3, Azure or HTTP storage
  - Hot-reload of changed datasets
  - TLS with automatic certificate management
  - Prometheus metrics`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("pipservice %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Run a single lookup and print the results as JSON",
	RunE:  runLookup,
}

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve one layer worker over stdin/stdout",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "dataset directory")
	rootCmd.PersistentFlags().StringSlice("data-layers", domain.DefaultLayers, "layers to load")
	rootCmd.PersistentFlags().String("worker-mode", config.WorkerModeProcess, "worker mode (process, local)")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 3102, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")

	// Storage flags
	rootCmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	rootCmd.Flags().String("storage-path", "", "local storage path synced into the data directory")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Lookup flags
	lookupCmd.Flags().Float64("lat", 0, "latitude")
	lookupCmd.Flags().Float64("lon", 0, "longitude")
	lookupCmd.Flags().StringSlice("layers", nil, "layers to consult (default: all)")
	_ = lookupCmd.MarkFlagRequired("lat")
	_ = lookupCmd.MarkFlagRequired("lon")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("data.directory", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("data.layers", rootCmd.PersistentFlags().Lookup("data-layers"))
	_ = viper.BindPFlag("workers.mode", rootCmd.PersistentFlags().Lookup("worker-mode"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("storage.type", rootCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.Flags().Lookup("storage-path"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(versionCmd, lookupCmd, workerCmd)
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting pipservice",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_directory", cfg.Data.Directory,
		"layers", cfg.Data.Layers,
		"worker_mode", cfg.Workers.Mode,
		"storage_type", cfg.Storage.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger, app.Options{WorkerArgs: workerArgs(cfg)})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start workers and server in background
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("server error", "error", runErr)
		}
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return runErr
}

func runLookup(cmd *cobra.Command, _ []string) error {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	layers, _ := cmd.Flags().GetStringSlice("layers")

	coord := domain.NewCoordinate(lat, lon)
	if err := coord.Validate(); err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Watch.Enabled = false
	cfg.Metrics.Enabled = false

	logger := setupLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{WorkerArgs: workerArgs(cfg)})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer application.Coordinator.End()

	if err := application.StartWorkers(ctx); err != nil {
		return err
	}

	results, err := application.Coordinator.LookupSync(ctx, coord, layers...)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", coord, err)
	}
	if results == nil {
		results = []domain.Result{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// runWorker serves the worker protocol. stdout carries protocol messages,
// so logs go to stderr.
func runWorker(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	logger := setupLogger(config.LoggingConfig{Level: level, Format: format}, os.Stderr)
	if layer := os.Getenv("PIP_WORKER_LAYER"); layer != "" {
		logger = logger.With("layer", layer, "pid", os.Getpid())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	rt := worker.NewRuntime(index.NewLoader(logger), logger)
	return rt.Serve(ctx, os.Stdin, os.Stdout)
}

// workerArgs returns the arguments process workers are started with.
func workerArgs(cfg *config.Config) []string {
	return []string{"worker", "--log-level", cfg.Logging.Level, "--log-format", cfg.Logging.Format}
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
