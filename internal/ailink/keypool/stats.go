package keypool

import "time"

// CredentialStats is a point-in-time view of one credential's health.
type CredentialStats struct {
	Index                 int        `json:"index" yaml:"index"`
	Hint                  string     `json:"hint" yaml:"hint"`
	SuccessCount          int64      `json:"success_count" yaml:"success_count"`
	ErrorCount            int64      `json:"error_count" yaml:"error_count"`
	Blocked               bool       `json:"blocked" yaml:"blocked"`
	BlockRemainingSeconds int        `json:"block_remaining_seconds" yaml:"block_remaining_seconds"`
	LastUsedAt            *time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
	LastError             string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// ServiceStats groups credential stats for a service.
type ServiceStats struct {
	Service     string            `json:"service" yaml:"service"`
	Total       int               `json:"total" yaml:"total"`
	Available   int               `json:"available" yaml:"available"`
	Credentials []CredentialStats `json:"credentials" yaml:"credentials"`
}

// Stats returns the current health of every credential.
func (p *Pool) Stats() ServiceStats {
	if p == nil {
		return ServiceStats{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := ServiceStats{
		Service:     p.service,
		Total:       len(p.secrets),
		Credentials: make([]CredentialStats, 0, len(p.secrets)),
	}
	for i := range p.health {
		blocked := p.isBlockedLocked(i, now)
		h := p.health[i]

		entry := CredentialStats{
			Index:        i,
			Hint:         MaskSecret(p.secrets[i]),
			SuccessCount: h.successCount,
			ErrorCount:   h.errorCount,
			Blocked:      blocked,
			LastError:    h.lastError,
		}
		if blocked {
			remaining := p.cfg.BlockTimeout - now.Sub(h.blockedAt)
			entry.BlockRemainingSeconds = int((remaining + time.Second - 1) / time.Second)
		} else {
			stats.Available++
		}
		if !h.lastUsedAt.IsZero() {
			ts := h.lastUsedAt
			entry.LastUsedAt = &ts
		}
		stats.Credentials = append(stats.Credentials, entry)
	}
	return stats
}
