package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/ailink/driver"
	"github.com/reelforge/reelforge/internal/appid"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/observability"
)

// Global flags.
var (
	cfgFile   string
	verbose   bool
	traceFile string
)

var (
	appIdentity *appid.Identity
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo records the build stamp injected into main by ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate = version, commit, buildDate
}

// GetAppIdentity returns the identity resolved during command initialization.
func GetAppIdentity() *appid.Identity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "Resilient orchestration of rate-limited generation providers",
	Long: `Run text and media generation against rate-limited providers with
credential rotation, admission control, retry and model fallback.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Metrics stay off until serve installs a real telemetry system, so that
	// one-shot commands never print counters to stdout.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}
	applyIdentityToHelp()

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/reelforge/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.StringVar(&traceFile, "trace", "", "append provider exchanges to an NDJSON trace file")
}

// applyIdentityToHelp names the root command after the embedded identity
// before cobra renders --help.
func applyIdentityToHelp() {
	identity, err := appid.Get(context.Background())
	if err != nil || identity == nil {
		return
	}
	appIdentity = identity
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

// initConfig runs before every command. Configuration itself is loaded lazily
// through loadConfig; this only prepares the logger, config path and tracing.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to resolve app identity", err)
	}
	appIdentity = identity

	if err := observability.InitCLILogger(identity.BinaryName, verbose); err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Config file not found", err)
		}
	}
	config.SetConfigFile(cfgFile)

	enableTracing(firstNonBlank(traceFile, os.Getenv(identity.EnvVar("AILINK_TRACE"))))
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// enableTracing turns on NDJSON driver traces for the rest of the process.
// The trace file is left open until exit.
func enableTracing(path string) {
	if path = strings.TrimSpace(path); path == "" || driver.IsTracingEnabled() {
		return
	}
	if _, err := driver.EnableTracing(path); err != nil {
		observability.CLILogger.Warn("Provider tracing disabled", zap.String("file", path), zap.Error(err))
		return
	}
	observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", path))
}
