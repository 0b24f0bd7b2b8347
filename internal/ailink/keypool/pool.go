// Package keypool tracks the health of interchangeable credentials for one
// upstream service and picks the credential to use for the next call.
package keypool

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultBlockTimeout is how long a credential stays blocked after its first
// blocking error.
const DefaultBlockTimeout = 60 * time.Second

// DefaultRecentUseWindow is the span during which a recently used credential
// is penalized during selection.
const DefaultRecentUseWindow = 30 * time.Second

var (
	// ErrNoCredentials is returned when a pool is built without credentials.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrAllBlocked is returned by Select when no credential is usable.
	ErrAllBlocked = errors.New("all credentials are blocked")
)

// Config tunes selection and blocking behavior.
type Config struct {
	BlockTimeout    time.Duration
	RecentUseWindow time.Duration
	// Sustained failure blocks a credential once errors reach MinErrors and
	// exceed successes by more than Margin. MinErrors <= 0 disables it.
	SustainedMinErrors int
	SustainedMargin    int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		BlockTimeout:       DefaultBlockTimeout,
		RecentUseWindow:    DefaultRecentUseWindow,
		SustainedMinErrors: 3,
		SustainedMargin:    2,
	}
}

// Credential is a secret plus its stable index within the pool.
type Credential struct {
	Index  int
	Secret string
}

// Hint returns a masked form of the secret safe for logs.
func (c Credential) Hint() string {
	return MaskSecret(c.Secret)
}

// Fault describes a failed call for health accounting.
type Fault struct {
	// Blocking marks quota and rate-limit signals, which block immediately.
	Blocking bool
	Reason   string
}

type health struct {
	lastUsedAt   time.Time
	successCount int64
	errorCount   int64
	blocked      bool
	blockedAt    time.Time
	lastError    string
}

// Pool owns the credentials of one service. It is safe for concurrent use.
type Pool struct {
	service string
	secrets []string
	cfg     Config

	// Clock is used for all timestamps; nil means time.Now.
	Clock func() time.Time
	// OnBlock, when set, is called (outside the lock) each time a credential
	// transitions into the blocked state.
	OnBlock func(service string, index int, reason string)

	mu     sync.Mutex
	health []health
}

// New builds a pool for service. Every credential receives a health record.
func New(service string, secrets []string, cfg Config) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("service %s: %w", service, ErrNoCredentials)
	}
	for i, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			return nil, fmt.Errorf("service %s: credential %d is empty", service, i)
		}
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	if cfg.RecentUseWindow <= 0 {
		cfg.RecentUseWindow = DefaultRecentUseWindow
	}

	copied := make([]string, len(secrets))
	copy(copied, secrets)

	return &Pool{
		service: service,
		secrets: copied,
		cfg:     cfg,
		health:  make([]health, len(copied)),
	}, nil
}

// Service returns the service id the pool belongs to.
func (p *Pool) Service() string {
	if p == nil {
		return ""
	}
	return p.service
}

// Len returns the number of credentials.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.secrets)
}

// Credential returns the credential at idx.
func (p *Pool) Credential(idx int) (Credential, bool) {
	if p == nil || idx < 0 || idx >= len(p.secrets) {
		return Credential{}, false
	}
	return Credential{Index: idx, Secret: p.secrets[idx]}, true
}

// SelectBest picks the lowest-scoring unblocked credential.
func (p *Pool) SelectBest() (Credential, error) {
	return p.Select(nil)
}

// Select picks the lowest-scoring unblocked credential, skipping indexes in
// exclude. When every unblocked credential is excluded the exclusion is
// ignored. A single-credential pool always returns its credential.
func (p *Pool) Select(exclude map[int]bool) (Credential, error) {
	if p == nil || len(p.secrets) == 0 {
		return Credential{}, ErrNoCredentials
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if len(p.secrets) == 1 {
		p.touchLocked(0, now)
		return Credential{Index: 0, Secret: p.secrets[0]}, nil
	}

	idx := p.bestLocked(now, exclude)
	if idx < 0 && len(exclude) > 0 {
		idx = p.bestLocked(now, nil)
	}
	if idx < 0 {
		return Credential{}, fmt.Errorf("service %s: %w", p.service, ErrAllBlocked)
	}

	p.touchLocked(idx, now)
	return Credential{Index: idx, Secret: p.secrets[idx]}, nil
}

// SelectForShard spreads shard ids across unblocked credentials and never
// fails. With nothing unblocked it degrades to credential 0.
func (p *Pool) SelectForShard(shardID int) Credential {
	if p == nil || len(p.secrets) == 0 {
		return Credential{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	unblocked := make([]int, 0, len(p.secrets))
	for i := range p.health {
		if !p.isBlockedLocked(i, now) {
			unblocked = append(unblocked, i)
		}
	}
	if len(unblocked) == 0 {
		return Credential{Index: 0, Secret: p.secrets[0]}
	}

	if shardID < 0 {
		shardID = -shardID
	}
	idx := unblocked[shardID%len(unblocked)]
	p.touchLocked(idx, now)
	return Credential{Index: idx, Secret: p.secrets[idx]}
}

// MarkUsed records a use of idx without an outcome.
func (p *Pool) MarkUsed(idx int) {
	if !p.valid(idx) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touchLocked(idx, p.now())
}

// MarkSuccess counts a success and always clears any block.
func (p *Pool) MarkSuccess(idx int) {
	if !p.valid(idx) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	h := &p.health[idx]
	h.successCount++
	h.blocked = false
	h.blockedAt = time.Time{}
}

// MarkError counts a failure and blocks the credential for blocking faults or
// sustained failure. An existing block is never extended.
func (p *Pool) MarkError(idx int, fault Fault) {
	if !p.valid(idx) {
		return
	}

	p.mu.Lock()
	now := p.now()
	h := &p.health[idx]
	h.errorCount++
	if fault.Reason != "" {
		h.lastError = fault.Reason
	}

	transitioned := false
	if fault.Blocking || p.sustainedLocked(h) {
		if !p.isBlockedLocked(idx, now) {
			h.blocked = true
			h.blockedAt = now
			transitioned = true
		}
	}
	onBlock := p.OnBlock
	p.mu.Unlock()

	if transitioned && onBlock != nil {
		onBlock(p.service, idx, fault.Reason)
	}
}

// IsBlocked reports whether idx is currently blocked.
func (p *Pool) IsBlocked(idx int) bool {
	if !p.valid(idx) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isBlockedLocked(idx, p.now())
}

func (p *Pool) sustainedLocked(h *health) bool {
	if p.cfg.SustainedMinErrors <= 0 {
		return false
	}
	return h.errorCount >= int64(p.cfg.SustainedMinErrors) &&
		h.errorCount > h.successCount+int64(p.cfg.SustainedMargin)
}

// isBlockedLocked applies lazy auto-unblock.
func (p *Pool) isBlockedLocked(idx int, now time.Time) bool {
	h := &p.health[idx]
	if !h.blocked {
		return false
	}
	if now.Sub(h.blockedAt) >= p.cfg.BlockTimeout {
		h.blocked = false
		h.blockedAt = time.Time{}
		return false
	}
	return true
}

func (p *Pool) touchLocked(idx int, now time.Time) {
	if p.isBlockedLocked(idx, now) {
		return
	}
	p.health[idx].lastUsedAt = now
}

func (p *Pool) bestLocked(now time.Time, exclude map[int]bool) int {
	best := -1
	bestScore := 0.0
	for i := range p.health {
		if exclude[i] || p.isBlockedLocked(i, now) {
			continue
		}
		score := p.scoreLocked(i, now)
		if best < 0 || score < bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

func (p *Pool) scoreLocked(idx int, now time.Time) float64 {
	h := p.health[idx]

	errorRate := 0.0
	if total := h.errorCount + h.successCount; total > 0 {
		errorRate = float64(h.errorCount) / float64(total)
	}

	penalty := 0.0
	if !h.lastUsedAt.IsZero() {
		remaining := p.cfg.RecentUseWindow - now.Sub(h.lastUsedAt)
		if remaining > 0 {
			penalty = float64(remaining.Milliseconds()) / 1000
		}
	}

	return errorRate*100 + penalty
}

func (p *Pool) valid(idx int) bool {
	return p != nil && idx >= 0 && idx < len(p.secrets)
}

func (p *Pool) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

// MaskSecret keeps the last four characters of a secret.
func MaskSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
