package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/reelforge/reelforge/internal/errors"
	"github.com/reelforge/reelforge/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the configuration loads, every configured service with credentials
can be built, and the store opens and migrates.

Services without credentials are reported but do not fail the check.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration loaded")

		registry, err := buildRegistry(cfg, nil, nil)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Service configuration invalid", err)
			return
		}
		for _, stats := range registry.Stats() {
			logger.Info(fmt.Sprintf("✅ Service %s ready", stats.Service), zap.Int("credentials", stats.Total))
		}
		for id, reason := range registry.Skipped() {
			logger.Warn(fmt.Sprintf("⚠️  Service %s unavailable", id), zap.String("reason", reason))
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Store unavailable", errwrap.WrapDatabaseError(cmd.Context(), err, "store open failed"))
			return
		}
		defer func() { _ = db.Close() }()
		if err := db.CheckHealth(cmd.Context()); err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Store unhealthy", errwrap.WrapDatabaseError(cmd.Context(), err, "store ping failed"))
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", db.Driver()))

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
