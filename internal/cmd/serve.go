package cmd

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/core/store"
	errwrap "github.com/reelforge/reelforge/internal/errors"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
	"github.com/reelforge/reelforge/internal/server"
	"github.com/reelforge/reelforge/internal/server/handlers"
)

const uptimeInterval = 15 * time.Second

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

The server exposes health endpoints, Prometheus metrics, and per-service
credential and admission state at GET /v1/credentials/stats.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read configuration (service and credential changes need a restart)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "server host (overrides server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "server port (overrides server.port)")
}

// serveOverrides maps explicitly set flags onto config keys.
func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		overrides["server.host"] = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		overrides["server.port"] = port
	}
	return overrides
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	namespace := identity.BinaryName
	overrides := serveOverrides(cmd)

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "failed to load configuration")
	}
	enableTracing(cfg.AILink.Trace)

	if err := observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace); err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "failed to initialize server logger")
	}
	logger := observability.ServerLogger

	metricsPort := cfg.Metrics.Port
	if metricsPort == 0 {
		metricsPort = observability.DefaultMetricsPort
	}
	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	var db *store.Store
	if cfg.Store.CallLog {
		db, err = openStore(ctx, cfg)
		if err != nil {
			logger.Warn("Call log disabled: store unavailable", zap.Error(err))
			db = nil
		}
	}

	registry, err := buildRegistry(cfg, db, logger)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return errwrap.WrapConfigInvalid(ctx, err, "invalid service configuration")
	}

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", metricsPort),
		zap.Strings("services", registry.Services()))

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	hm.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	hm.RegisterAdvisoryChecker("credentials", handlers.CredentialsChecker{Source: registry})
	if db != nil {
		hm.RegisterChecker("store", db)
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithStats(registry),
		server.WithAdminToken(strings.TrimSpace(os.Getenv(identity.EnvVar("ADMIN_TOKEN")))),
		server.WithBuildInfo(handlers.BuildInfo{
			Name:      identity.BinaryName,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	uptimeCtx, stopUptime := context.WithCancel(context.Background())
	started := time.Now()
	metrics.MarkServerStarted(started)
	go trackUptime(uptimeCtx, started)

	// Shutdown handlers run LIFO: last registered, first executed.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter stop returned error", zap.Error(err))
			}
			return nil
		})
	}

	if db != nil {
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing store...")
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			return nil
		})
	}

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		stopUptime()
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: attempting config reload")

		next, err := config.Load(ctx, overrides)
		if err != nil {
			logger.Error("Failed to reload config",
				zap.String("file", config.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}

		if changed := changedServices(registry.Services(), next); len(changed) > 0 {
			logger.Warn("Service configuration changed; restart to apply",
				zap.Strings("services", changed))
		}
		logger.Info("Configuration reloaded",
			zap.String("file", config.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server...",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

func trackUptime(ctx context.Context, started time.Time) {
	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			metrics.SetServerUptime(now.Sub(started))
		}
	}
}

// changedServices lists services that were added or removed relative to the
// running registry, counting only those with credentials.
func changedServices(running []string, next *config.Config) []string {
	current := make(map[string]bool, len(running))
	for _, id := range running {
		current[id] = true
	}

	var changed []string
	for id, svc := range next.AILink.Services {
		if len(svc.Credentials) == 0 {
			continue
		}
		if !current[id] {
			changed = append(changed, id)
		}
		delete(current, id)
	}
	for id := range current {
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed
}
