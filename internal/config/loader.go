// Package config provides centralized configuration management for reelforge.
// Layers, lowest to highest precedence:
// Layer 1: built-in defaults (setDefaults)
// Layer 2: user config file (./reelforge.yaml or the XDG config dir)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/reelforge/reelforge/internal/ailink"
	"github.com/reelforge/reelforge/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appid.Identity

	// explicitConfigFile is set by the --config flag.
	explicitConfigFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins the user config file instead of searching for one.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	explicitConfigFile = strings.TrimSpace(path)
}

// Load loads configuration from defaults, the user config file, environment
// variables and runtime overrides, in that order of precedence.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	setDefaults(v)

	configFile := findConfigFile()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	prefix := envPrefix()
	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short env aliases (REELFORGE_PORT, REELFORGE_LOG_LEVEL, ...) and
	// per-service variables for services not present in defaults.
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	applyServiceEnvOverrides(prefix, os.Environ(), envOverrides)
	if len(envOverrides) > 0 {
		if err := v.MergeConfigMap(envOverrides); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}

	for _, overrides := range runtimeOverrides {
		for key, value := range flatten("", overrides) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	ResolveCredentials(&cfg.AILink, os.LookupEnv)

	setConfig(cfg)

	return cfg, nil
}

// ConfigFileUsed returns the config file Load would read, or "".
func ConfigFileUsed() string {
	return findConfigFile()
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.call_log", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	ai := ailink.DefaultConfig()
	v.SetDefault("ailink.block_timeout", ai.BlockTimeout)
	v.SetDefault("ailink.recent_use_window", ai.RecentUseWindow)
	v.SetDefault("ailink.sustained_failure.min_errors", ai.SustainedFailure.MinErrors)
	v.SetDefault("ailink.sustained_failure.margin", ai.SustainedFailure.Margin)
	v.SetDefault("ailink.retry.max_retries", ai.Retry.MaxRetries)
	v.SetDefault("ailink.retry.max_total_attempts", ai.Retry.MaxTotalAttempts)
	v.SetDefault("ailink.retry.base_delay", ai.Retry.BaseDelay)
	v.SetDefault("ailink.retry.max_delay", ai.Retry.MaxDelay)
	v.SetDefault("ailink.retry.jitter", ai.Retry.Jitter)
	v.SetDefault("ailink.retry.max_retry_after", ai.Retry.MaxRetryAfter)
	v.SetDefault("ailink.poller.interval", ai.Poller.Interval)
	v.SetDefault("ailink.poller.timeout", ai.Poller.Timeout)
	v.SetDefault("ailink.trace", "")

	for id, svc := range ai.Services {
		key := "ailink.services." + id + "."
		v.SetDefault(key+"provider", svc.Provider)
		v.SetDefault(key+"kind", svc.Kind)
		v.SetDefault(key+"base_url", svc.BaseURL)
		v.SetDefault(key+"key_env", svc.KeyEnv)
		v.SetDefault(key+"credentials", []string{})
		v.SetDefault(key+"models", svc.Models)
		v.SetDefault(key+"timeout", svc.Timeout)
		v.SetDefault(key+"rate_limit.max_per_second", svc.RateLimit.MaxPerSecond)
		v.SetDefault(key+"rate_limit.burst_max", svc.RateLimit.BurstMax)
		v.SetDefault(key+"rate_limit.burst_window", svc.RateLimit.BurstWindow)
		v.SetDefault(key+"rate_limit.margin", svc.RateLimit.Margin)
	}
}

func envPrefix() string {
	prefix := "REELFORGE_"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns the short environment variable aliases.
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// applyServiceEnvOverrides maps {PREFIX}AILINK_SERVICES_<ID>_<FIELD> onto
// ailink.services.<id>.<field>. Ids are lower-cased; underscores in an id
// become dashes.
func applyServiceEnvOverrides(prefix string, environ []string, envOverrides map[string]any) {
	servicePrefix := prefix + "AILINK_SERVICES_"
	fields := []string{
		"RATE_LIMIT_MAX_PER_SECOND",
		"RATE_LIMIT_BURST_WINDOW",
		"RATE_LIMIT_BURST_MAX",
		"RATE_LIMIT_MARGIN",
		"CREDENTIALS",
		"PROVIDER",
		"BASE_URL",
		"KEY_ENV",
		"TIMEOUT",
		"MODELS",
		"KIND",
	}

	for _, item := range environ {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(value) == "" || !strings.HasPrefix(key, servicePrefix) {
			continue
		}
		rest := key[len(servicePrefix):]

		for _, field := range fields {
			if !strings.HasSuffix(rest, "_"+field) {
				continue
			}
			id := toSlug(strings.TrimSuffix(rest, "_"+field))
			if id == "" {
				break
			}
			services := ensureMap(ensureMap(envOverrides, "ailink"), "services")
			svc := ensureMap(services, id)
			value = strings.TrimSpace(value)
			if sub, ok := strings.CutPrefix(field, "RATE_LIMIT_"); ok {
				ensureMap(svc, "rate_limit")[strings.ToLower(sub)] = value
			} else {
				svc[strings.ToLower(field)] = value
			}
			break
		}
	}
}

func findConfigFile() string {
	configMu.RLock()
	explicit := explicitConfigFile
	configMu.RUnlock()
	if explicit != "" {
		return explicit
	}

	configName, binaryName := appNamesForPaths()
	candidates := []string{
		binaryName + ".yaml",
		filepath.Join("config", binaryName+".yaml"),
		DefaultConfigPath(),
	}
	for _, path := range gfconfig.GetAppConfigPaths(configName) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, "config.yaml")
		}
		candidates = append(candidates, path)
	}

	for _, path := range candidates {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "reelforge" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "reelforge"
	binaryName = "reelforge"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, in map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func toSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "-")
}
