package ailink

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
)

// Provider identifiers accepted in ServiceConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderXAI       = "xai"
	ProviderMedia     = "media"
)

// Service kinds.
const (
	KindText  = "text"
	KindMedia = "media"
)

// Config is the `ailink` configuration subtree.
type Config struct {
	BlockTimeout     time.Duration          `mapstructure:"block_timeout"`
	RecentUseWindow  time.Duration          `mapstructure:"recent_use_window"`
	SustainedFailure SustainedFailureConfig `mapstructure:"sustained_failure"`
	Retry            RetryPolicy            `mapstructure:"retry"`
	Poller           PollerConfig           `mapstructure:"poller"`

	// Trace is an NDJSON file path for redacted driver traces. Empty disables.
	Trace string `mapstructure:"trace"`

	// Services are keyed by a user-chosen id such as "text" or "media".
	Services map[string]ServiceConfig `mapstructure:"services"`
}

// SustainedFailureConfig tunes when repeated transient errors block a credential.
type SustainedFailureConfig struct {
	MinErrors int `mapstructure:"min_errors"`
	Margin    int `mapstructure:"margin"`
}

// PollerConfig tunes TaskPoller.
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServiceConfig declares one upstream service.
type ServiceConfig struct {
	Provider string `mapstructure:"provider"`
	Kind     string `mapstructure:"kind"`
	BaseURL  string `mapstructure:"base_url"`

	// KeyEnv is the base environment variable name for credential discovery.
	KeyEnv string `mapstructure:"key_env"`

	// Credentials holds explicit secrets; discovered ones are appended.
	Credentials []string `mapstructure:"credentials"`

	// Models lists the primary model first, then fallbacks.
	Models []string `mapstructure:"models"`

	// Timeout bounds each individual upstream invocation. Zero means
	// DefaultInvocationTimeout.
	Timeout time.Duration `mapstructure:"timeout"`

	RateLimit admission.Limit `mapstructure:"rate_limit"`
}

// DefaultConfig returns the built-in ailink settings.
func DefaultConfig() Config {
	return Config{
		BlockTimeout:    keypool.DefaultBlockTimeout,
		RecentUseWindow: keypool.DefaultRecentUseWindow,
		SustainedFailure: SustainedFailureConfig{
			MinErrors: 3,
			Margin:    2,
		},
		Retry: DefaultRetryPolicy(),
		Poller: PollerConfig{
			Interval: DefaultPollInterval,
			Timeout:  DefaultPollTimeout,
		},
		Services: map[string]ServiceConfig{
			"text": {
				Provider:  ProviderXAI,
				Kind:      KindText,
				BaseURL:   "https://api.x.ai/v1",
				KeyEnv:    "TEXT_API_KEY",
				Models:    []string{"grok-3", "grok-3-mini"},
				Timeout:   60 * time.Second,
				RateLimit: admission.TextDefaults(),
			},
			"media": {
				Provider:  ProviderMedia,
				Kind:      KindMedia,
				KeyEnv:    "MEDIA_API_KEY",
				Models:    []string{"standard"},
				Timeout:   30 * time.Second,
				RateLimit: admission.MediaDefaults(),
			},
		},
	}
}

// PoolConfig maps the credential settings onto keypool.Config. The
// sustained-failure tunables pass through as set: min_errors <= 0 disables
// the heuristic and a negative margin counts as zero.
func (c Config) PoolConfig() keypool.Config {
	cfg := keypool.DefaultConfig()
	if c.BlockTimeout > 0 {
		cfg.BlockTimeout = c.BlockTimeout
	}
	if c.RecentUseWindow > 0 {
		cfg.RecentUseWindow = c.RecentUseWindow
	}
	cfg.SustainedMinErrors = c.SustainedFailure.MinErrors
	cfg.SustainedMargin = max(c.SustainedFailure.Margin, 0)
	return cfg
}

// ServiceIDs returns configured service ids in sorted order.
func (c Config) ServiceIDs() []string {
	ids := make([]string, 0, len(c.Services))
	for id := range c.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InvocationTimeout returns Timeout, or DefaultInvocationTimeout when unset.
func (s ServiceConfig) InvocationTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultInvocationTimeout
}

// ResolvedKind returns Kind, inferring it from Provider when unset.
func (s ServiceConfig) ResolvedKind() string {
	if kind := strings.ToLower(strings.TrimSpace(s.Kind)); kind != "" {
		return kind
	}
	if strings.EqualFold(strings.TrimSpace(s.Provider), ProviderMedia) {
		return KindMedia
	}
	return KindText
}

// Validate checks the settings a registry needs to build the service.
func (s ServiceConfig) Validate(id string) error {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderXAI:
		if s.ResolvedKind() != KindText {
			return fmt.Errorf("service %q: provider %s only serves text", id, provider)
		}
	case ProviderMedia:
		if s.ResolvedKind() != KindMedia {
			return fmt.Errorf("service %q: provider media only serves media", id)
		}
		if strings.TrimSpace(s.BaseURL) == "" {
			return fmt.Errorf("service %q: base_url is required for media", id)
		}
	case "":
		return fmt.Errorf("service %q: provider is required", id)
	default:
		return fmt.Errorf("service %q: unknown provider %q", id, s.Provider)
	}
	if len(s.Models) == 0 {
		return fmt.Errorf("service %q: at least one model is required", id)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("service %q: timeout must not be negative", id)
	}
	if err := s.RateLimit.Validate(); err != nil {
		return fmt.Errorf("service %q: %w", id, err)
	}
	return nil
}
