package observability

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger serves one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger is set by serve and writes JSON to stderr.
	ServerLogger *logging.Logger
)

// Current returns the server logger when serving, else the CLI logger. It may
// return nil before either is initialized.
func Current() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// InitCLILogger installs CLILogger. verbose lowers the level to DEBUG.
func InitCLILogger(binary string, verbose bool) error {
	logger, err := logging.NewCLI(binary)
	if err != nil {
		return fmt.Errorf("init CLI logger: %w", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
	return nil
}

// InitServerLogger installs ServerLogger. A non-empty namespace is stamped on
// every entry so pools from several deployments can share a log stream.
func InitServerLogger(binary, level, namespace string) error {
	logger, err := logging.New(serverLoggerConfig(binary, parseLogLevel(level), namespace))
	if err != nil {
		return fmt.Errorf("init server logger: %w", err)
	}
	ServerLogger = logger
	return nil
}

func serverLoggerConfig(binary, level, namespace string) *logging.LoggerConfig {
	static := map[string]any{}
	if namespace != "" {
		static["namespace"] = namespace
	}
	stderrJSON := logging.SinkConfig{
		Type:    "console",
		Format:  "json",
		Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
	}
	correlation := logging.MiddlewareConfig{
		Name:    "correlation",
		Enabled: true,
		Order:   100,
		Config:  map[string]any{},
	}
	return &logging.LoggerConfig{
		Profile:          logging.ProfileStructured,
		DefaultLevel:     level,
		Service:          binary,
		Environment:      "production",
		StaticFields:     static,
		Middleware:       []logging.MiddlewareConfig{correlation},
		Sinks:            []logging.SinkConfig{stderrJSON},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// parseLogLevel maps a config value onto a logging severity, defaulting to
// INFO.
func parseLogLevel(value string) string {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(value))]; ok {
		return level
	}
	return "INFO"
}
