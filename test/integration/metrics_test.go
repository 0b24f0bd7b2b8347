package integration

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/ailink"
	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/content"
	"github.com/reelforge/reelforge/internal/ailink/driver"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
	"github.com/reelforge/reelforge/internal/server"
	"github.com/reelforge/reelforge/internal/server/handlers"
)

// isPermissionError reports sandboxes that refuse loopback sockets, so the
// suite skips instead of failing there.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted")
}

func initMetricsOrSkip(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// serveOnLoopback runs srv on an IPv4 loopback listener.
func serveOnLoopback(t *testing.T, srv *server.Server) (string, *http.Client) {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: srv.Handler()}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts.URL, ts.Client()
}

func rotatingRegistry(t *testing.T, upstreamURL string) *ailink.Registry {
	t.Helper()
	cfg := ailink.DefaultConfig()
	cfg.Services = map[string]ailink.ServiceConfig{
		"text": {
			Provider:    ailink.ProviderXAI,
			BaseURL:     upstreamURL,
			Models:      []string{"grok-a"},
			RateLimit:   admission.Limit{MaxPerSecond: 100, BurstMax: 100, BurstWindow: time.Second},
			Credentials: []string{"integration-key-0001", "integration-key-0002"},
		},
		"video": {Provider: ailink.ProviderMedia},
	}
	registry, err := ailink.NewRegistry(cfg)
	require.NoError(t, err)
	return registry
}

func scrape(t *testing.T, client *http.Client, baseURL string) (string, *http.Response) {
	t.Helper()
	resp, err := client.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	return string(body), resp
}

func TestMetricsEndpointReportsCredentialTraffic(t *testing.T) {
	require.NoError(t, observability.InitCLILogger("test", false))
	require.NoError(t, observability.InitServerLogger("test", "info", ""))
	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	registry := rotatingRegistry(t, newUpstream(t).URL)
	baseURL, client := serveOnLoopback(t, server.New("127.0.0.1", 0, server.WithStats(registry)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const calls = 12
	const workers = 4
	jobs := make(chan int, calls)
	for i := range calls {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				_, err := registry.Text(ctx, "text", &driver.TextRequest{
					Messages: []content.Message{content.TextMessage(content.RoleUser, "caption this")},
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for path, want := range map[string]int{
		"/v1/credentials/stats":               http.StatusOK,
		"/v1/credentials/stats?service=text":  http.StatusOK,
		"/v1/credentials/stats?service=video": http.StatusNotFound,
		"/health/live":                        http.StatusOK,
	} {
		resp, err := client.Get(baseURL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, want, resp.StatusCode, path)
	}

	body, resp := scrape(t, client, baseURL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	for _, name := range []string{
		metrics.HTTPRequestsTotal,
		metrics.HTTPRequestDuration,
		metrics.ErrorEnvelopesTotal,
		metrics.UpstreamCallsTotal,
		metrics.UpstreamAttemptsTotal,
		metrics.CredentialBlocksTotal,
		metrics.CredentialsAvailable,
	} {
		assert.Contains(t, body, "test_"+name)
	}
	assert.Contains(t, body, `endpoint="/v1/credentials/stats"`)
	assert.NotContains(t, body, "service=video")
	assert.NotContains(t, body, "integration-key-0001")
}

func TestMetricsEndpointUnavailableWithoutExporter(t *testing.T) {
	require.NoError(t, observability.InitCLILogger("test", false))
	require.NoError(t, observability.InitServerLogger("test", "info", ""))

	previousExporter := observability.PrometheusExporter
	previousTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = previousExporter
		observability.TelemetrySystem = previousTelemetry
	})
	handlers.InitHealthManager("test")

	baseURL, client := serveOnLoopback(t, server.New("127.0.0.1", 0))

	resp, err := client.Get(baseURL + "/health/live")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, resp = scrape(t, client, baseURL)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
