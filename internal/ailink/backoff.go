package ailink

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries for one logical call.
type RetryPolicy struct {
	// MaxRetries bounds attempts per credential.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
	// MaxTotalAttempts caps attempts across all credentials of a pool.
	MaxTotalAttempts int           `mapstructure:"max_total_attempts" json:"max_total_attempts" yaml:"max_total_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay" json:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`
	// Jitter is the randomization factor applied to each delay (0.1 = ±10%).
	Jitter float64 `mapstructure:"jitter" json:"jitter" yaml:"jitter"`
	// MaxRetryAfter caps provider supplied retry hints.
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after" json:"max_retry_after" yaml:"max_retry_after"`
}

// DefaultRetryPolicy returns 3 retries per credential, at most 10 overall,
// and 1s..30s exponential backoff with ±10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		MaxTotalAttempts: 10,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Jitter:           0.1,
		MaxRetryAfter:    60 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.MaxTotalAttempts <= 0 {
		p.MaxTotalAttempts = def.MaxTotalAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = def.Jitter
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = def.MaxRetryAfter
	}
	return p
}

// Budget returns the attempt budget for a pool of n credentials.
func (p RetryPolicy) Budget(n int) int {
	p = p.normalized()
	if n <= 1 {
		return p.MaxRetries
	}
	return min(n*p.MaxRetries, p.MaxTotalAttempts)
}

// delays yields successive backoff waits for one model's attempts.
type delays struct {
	policy RetryPolicy
	expo   *backoff.ExponentialBackOff
}

func newDelays(policy RetryPolicy) *delays {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.BaseDelay
	expo.MaxInterval = policy.MaxDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = policy.Jitter
	expo.MaxElapsedTime = 0
	expo.Reset()
	return &delays{policy: policy, expo: expo}
}

// Next returns the next backoff wait, capped at MaxDelay.
func (d *delays) Next() time.Duration {
	wait := d.expo.NextBackOff()
	if wait == backoff.Stop || wait > d.policy.MaxDelay {
		wait = d.policy.MaxDelay
	}
	return wait
}

// hinted returns the provider hint capped at MaxRetryAfter, or a backoff wait.
func (d *delays) hinted(hint time.Duration) time.Duration {
	if hint <= 0 {
		return d.Next()
	}
	if hint > d.policy.MaxRetryAfter {
		return d.policy.MaxRetryAfter
	}
	return hint
}
