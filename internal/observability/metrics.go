package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// DefaultMetricsPort is reported when the exporter was asked for a free port
// and its bound address cannot be read back.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem receives every domain and HTTP metric while serving.
	TelemetrySystem *telemetry.System

	// PrometheusExporter backs TelemetrySystem and is proxied at /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 or negative picks a
// free port) and installs a telemetry system emitting to it. Metric names are
// prefixed with namespace, or with binary when namespace is empty.
func InitMetrics(binary string, port int, namespace string) error {
	if port < 0 {
		port = 0
	}
	if namespace == "" {
		namespace = binary
	}

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("init telemetry: %w", err)
	}

	PrometheusExporter, TelemetrySystem = exporter, sys
	metricsPort = boundPort(exporter.GetAddr(), port)
	return nil
}

// StopMetrics stops the exporter and clears the telemetry globals.
func StopMetrics() error {
	var err error
	if PrometheusExporter != nil {
		err = PrometheusExporter.Stop()
	}
	PrometheusExporter, TelemetrySystem, metricsPort = nil, nil, 0
	return err
}

// GetMetricsPort returns the exporter's listening port, or 0 when stopped.
func GetMetricsPort() int {
	return metricsPort
}

func boundPort(addr string, requested int) int {
	if _, portStr, err := net.SplitHostPort(addr); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			return port
		}
	}
	if requested == 0 {
		return DefaultMetricsPort
	}
	return requested
}
