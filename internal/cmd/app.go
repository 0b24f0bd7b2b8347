package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/ailink"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/core"
	"github.com/reelforge/reelforge/internal/core/projects"
	"github.com/reelforge/reelforge/internal/core/store"
	"github.com/reelforge/reelforge/internal/core/writequeue"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
)

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	enableTracing(strings.TrimSpace(cfg.AILink.Trace))
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// callLogRecorder appends orchestrated call summaries to the store's call log.
type callLogRecorder struct {
	db *store.Store
}

func (r callLogRecorder) RecordCall(ctx context.Context, summary ailink.CallSummary) error {
	return r.db.InsertCallRecord(ctx, &core.CallRecord{
		Service:    summary.Service,
		Operation:  summary.Operation,
		Model:      summary.Model,
		Credential: summary.Credential,
		Attempts:   summary.Attempts,
		Elapsed:    summary.Elapsed,
		Kind:       string(summary.Kind),
		Error:      summary.Error,
		StartedAt:  summary.StartedAt,
	})
}

// buildRegistry wires every configured service. db may be nil, in which case
// calls are not written to the call log. A nil logger means the current one.
func buildRegistry(cfg *config.Config, db *store.Store, logger *logging.Logger) (*ailink.Registry, error) {
	if logger == nil {
		logger = observability.Current()
	}
	opts := []ailink.RegistryOption{ailink.WithLogger(logger)}
	if db != nil && cfg.Store.CallLog {
		opts = append(opts, ailink.WithRecorder(callLogRecorder{db: db}))
	}

	registry, err := ailink.NewRegistry(cfg.AILink, opts...)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		for id, reason := range registry.Skipped() {
			logger.Debug("Service unavailable",
				zap.String("service", id),
				zap.String("reason", reason))
		}
	}
	return registry, nil
}

func newProjectService(db *store.Store) *projects.Service {
	svc := projects.NewService(db, writequeue.New("projects"))
	svc.Logger = observability.CLILogger
	return svc
}

// operationOutcome labels err for operation metrics: success, the upstream
// error kind, or "error" for anything else.
func operationOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if kind := ailink.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func recordOperation(operation string, started time.Time, err error) {
	metrics.RecordOperation(operation, operationOutcome(err), time.Since(started))
}
