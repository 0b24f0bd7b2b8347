package ailink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/ailink/keypool"
)

func TestPoolConfigSustainedFailureTunables(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.PoolConfig().SustainedMinErrors)
	require.Equal(t, 2, cfg.PoolConfig().SustainedMargin)

	cfg.SustainedFailure = SustainedFailureConfig{MinErrors: 0, Margin: 0}
	poolCfg := cfg.PoolConfig()
	require.Zero(t, poolCfg.SustainedMinErrors)
	require.Zero(t, poolCfg.SustainedMargin)

	pool, err := keypool.New("text", []string{"text-key-0001", "text-key-0002"}, poolCfg)
	require.NoError(t, err)
	for range 5 {
		pool.MarkError(0, keypool.Fault{Reason: "upstream status 503"})
	}
	require.False(t, pool.IsBlocked(0), "min_errors 0 disables the sustained-failure block")

	cfg.SustainedFailure = SustainedFailureConfig{MinErrors: 2, Margin: -4}
	require.Zero(t, cfg.PoolConfig().SustainedMargin)
}

func TestServiceInvocationTimeoutDefaults(t *testing.T) {
	require.Equal(t, DefaultInvocationTimeout, ServiceConfig{}.InvocationTimeout())
	require.Equal(t, 5*time.Second, ServiceConfig{Timeout: 5 * time.Second}.InvocationTimeout())

	reg, _ := newTestRegistry(t, map[string]ServiceConfig{
		"captions": {Provider: ProviderXAI, Models: []string{"m"}, RateLimit: generousLimit(), Credentials: []string{"text-key-0001"}},
	})
	svc, err := reg.Service("captions")
	require.NoError(t, err)
	require.Equal(t, DefaultInvocationTimeout, svc.Orchestrator.Timeout)

	require.Equal(t, DefaultInvocationTimeout, (&Orchestrator{}).invocationTimeout())
}
