package ailink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/driver"
	"github.com/reelforge/reelforge/internal/ailink/driver/anthropic"
	"github.com/reelforge/reelforge/internal/ailink/driver/media"
	"github.com/reelforge/reelforge/internal/ailink/driver/openai"
	"github.com/reelforge/reelforge/internal/ailink/driver/xai"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	"github.com/reelforge/reelforge/internal/metrics"
)

// Service is one configured upstream with its own credentials, admission
// window and driver.
type Service struct {
	ID           string
	Config       ServiceConfig
	Pool         *keypool.Pool
	Admission    *admission.Controller
	Orchestrator *Orchestrator

	text  driver.TextDriver
	media driver.MediaDriver
}

// Kind reports whether the service serves text or media.
func (s *Service) Kind() string {
	return s.Config.ResolvedKind()
}

// Registry owns every configured service.
type Registry struct {
	cfg    Config
	logger *logging.Logger
	poller *Poller

	recorder Recorder
	clock    func() time.Time
	sleep    admission.Sleeper

	mu       sync.RWMutex
	services map[string]*Service
	// skipped maps service ids that were configured but not built to why.
	skipped map[string]string
}

// RegistryOption customizes NewRegistry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by orchestrators, pollers and the registry.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithRecorder persists a summary of every logical call.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// WithClock replaces the wall clock for pools, admission and orchestration.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithSleeper replaces the context-aware sleep used while waiting.
func WithSleeper(sleep admission.Sleeper) RegistryOption {
	return func(r *Registry) { r.sleep = sleep }
}

// NewRegistry builds a service for each configured entry that has
// credentials. Services without credentials are skipped and reported by
// Skipped; invalid configuration for a service with credentials is an error.
func NewRegistry(cfg Config, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		cfg:      cfg,
		services: map[string]*Service{},
		skipped:  map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.poller = &Poller{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
		Logger:   r.logger,
		Clock:    r.clock,
		Sleep:    r.sleep,
	}

	for _, id := range cfg.ServiceIDs() {
		svcCfg := cfg.Services[id]
		if len(svcCfg.Credentials) == 0 {
			r.skipped[id] = "no credentials"
			r.logDebug("Service skipped", zap.String("service", id), zap.String("reason", "no credentials"))
			continue
		}
		if err := svcCfg.Validate(id); err != nil {
			return nil, err
		}

		svc, err := r.build(id, svcCfg)
		if err != nil {
			return nil, err
		}
		r.services[id] = svc
	}

	return r, nil
}

func (r *Registry) build(id string, svcCfg ServiceConfig) (*Service, error) {
	pool, err := keypool.New(id, svcCfg.Credentials, r.cfg.PoolConfig())
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", id, err)
	}
	if r.clock != nil {
		pool.Clock = r.clock
	}
	pool.OnBlock = func(service string, index int, reason string) {
		metrics.RecordCredentialBlocked(service, index, reason)
		if r.logger != nil {
			r.logger.Warn("Credential blocked",
				zap.String("service", service),
				zap.Int("credential", index),
				zap.String("reason", reason))
		}
	}

	ctrl, err := admission.New(id, svcCfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", id, err)
	}
	if r.clock != nil {
		ctrl.Clock = r.clock
	}
	if r.sleep != nil {
		ctrl.Sleep = r.sleep
	}
	ctrl.OnGrant = func(service string, _ time.Time, waited time.Duration) {
		metrics.RecordAdmissionWait(service, waited)
	}

	svc := &Service{
		ID:        id,
		Config:    svcCfg,
		Pool:      pool,
		Admission: ctrl,
		Orchestrator: &Orchestrator{
			Service:   id,
			Pool:      pool,
			Admission: ctrl,
			Policy:    r.cfg.Retry,
			Timeout:   svcCfg.InvocationTimeout(),
			Logger:    r.logger,
			Recorder:  r.recorder,
			Clock:     r.clock,
			Sleep:     r.sleep,
		},
	}

	switch strings.ToLower(strings.TrimSpace(svcCfg.Provider)) {
	case ProviderOpenAI:
		svc.text = openai.NewClient(svcCfg.BaseURL)
	case ProviderAnthropic:
		svc.text = anthropic.NewClient(svcCfg.BaseURL)
	case ProviderXAI:
		svc.text = xai.NewClient(svcCfg.BaseURL)
	case ProviderMedia:
		svc.media = media.NewClient(svcCfg.BaseURL)
	default:
		return nil, fmt.Errorf("service %q: unknown provider %q", id, svcCfg.Provider)
	}

	metrics.SetCredentialsAvailable(id, pool.Len())
	return svc, nil
}

// Service returns the built service for id.
func (r *Registry) Service(id string) (*Service, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry: %w", ErrNotConfigured)
	}
	id = strings.TrimSpace(id)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if svc, ok := r.services[id]; ok {
		return svc, nil
	}
	if reason, ok := r.skipped[id]; ok {
		return nil, fmt.Errorf("service %q (%s): %w", id, reason, ErrNotConfigured)
	}
	return nil, fmt.Errorf("service %q: %w", id, ErrNotConfigured)
}

// Services returns the ids of built services in sorted order.
func (r *Registry) Services() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Skipped returns configured services that were not built, with the reason.
func (r *Registry) Skipped() map[string]string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.skipped))
	for id, reason := range r.skipped {
		out[id] = reason
	}
	return out
}

// Text runs a completion through the service's orchestrator. An explicit
// req.Model is tried alone; otherwise the service's models are tried in order.
func (r *Registry) Text(ctx context.Context, service string, req *driver.TextRequest) (*Outcome[*driver.TextResponse], error) {
	svc, err := r.Service(service)
	if err != nil {
		return nil, err
	}
	if svc.text == nil {
		return nil, fmt.Errorf("service %q is not a text service: %w", svc.ID, ErrNotConfigured)
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("text request messages are required")
	}

	models := svc.Config.Models
	if model := strings.TrimSpace(req.Model); model != "" {
		models = []string{model}
	}

	return Execute(ctx, svc.Orchestrator, "text.complete", models,
		func(ctx context.Context, cred keypool.Credential, model string) (*driver.TextResponse, error) {
			attempt := *req
			attempt.Model = model
			return svc.text.Complete(ctx, cred.Secret, &attempt)
		})
}

// Media submits a generation job and waits for its deliverables.
func (r *Registry) Media(ctx context.Context, service string, req *driver.MediaRequest) (*TaskResult, error) {
	svc, err := r.Service(service)
	if err != nil {
		return nil, err
	}
	if svc.media == nil {
		return nil, fmt.Errorf("service %q is not a media service: %w", svc.ID, ErrNotConfigured)
	}
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("media request prompt is required")
	}

	models := svc.Config.Models
	if model := strings.TrimSpace(req.Model); model != "" {
		models = []string{model}
	}

	return r.poller.Run(ctx, svc.Orchestrator, Job{
		Models: models,
		Submit: func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
			attempt := *req
			attempt.Model = model
			return svc.media.Submit(ctx, cred.Secret, &attempt)
		},
		Poll: func(ctx context.Context, cred keypool.Credential, taskID string) (*driver.JobState, error) {
			return svc.media.Poll(ctx, cred.Secret, taskID)
		},
	})
}

// Stats returns per-credential health for every built service, sorted by id.
func (r *Registry) Stats() []keypool.ServiceStats {
	if r == nil {
		return nil
	}
	ids := r.Services()

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]keypool.ServiceStats, 0, len(ids))
	for _, id := range ids {
		stats = append(stats, r.services[id].Pool.Stats())
	}
	return stats
}

// Admission returns the current admission window of every built service.
func (r *Registry) Admission() []admission.Snapshot {
	if r == nil {
		return nil
	}
	ids := r.Services()

	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]admission.Snapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, r.services[id].Admission.Snapshot())
	}
	return snaps
}

func (r *Registry) logDebug(msg string, fields ...zap.Field) {
	if r.logger != nil {
		r.logger.Debug(msg, fields...)
	}
}
