package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/reelforge/reelforge/internal/ailink"
)

const (
	// MinCredentialLength rejects placeholders such as "changeme".
	MinCredentialLength = 10
	// MaxNumberedCredentials is the highest numbered suffix read.
	MaxNumberedCredentials = 10
)

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// DiscoverCredentials collects secrets from base and base_1..base_10.
// Values are trimmed; short values are skipped; duplicates keep their first
// position.
func DiscoverCredentials(lookup LookupFunc, base string) []string {
	base = strings.TrimSpace(base)
	if base == "" || lookup == nil {
		return nil
	}

	names := make([]string, 0, MaxNumberedCredentials+1)
	names = append(names, base)
	for i := 1; i <= MaxNumberedCredentials; i++ {
		names = append(names, fmt.Sprintf("%s_%d", base, i))
	}

	var found []string
	for _, name := range names {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		found = append(found, value)
	}
	return MergeCredentials(found)
}

// MergeCredentials concatenates lists, trimming, dropping short values and
// removing duplicates while preserving first-seen order.
func MergeCredentials(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, raw := range list {
			value := strings.TrimSpace(raw)
			if len(value) < MinCredentialLength || seen[value] {
				continue
			}
			seen[value] = true
			out = append(out, value)
		}
	}
	return out
}

// ResolveCredentials fills every service's Credentials with its explicit
// entries followed by secrets discovered from KeyEnv.
func ResolveCredentials(cfg *ailink.Config, lookup LookupFunc) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for id, svc := range cfg.Services {
		svc.Credentials = MergeCredentials(svc.Credentials, DiscoverCredentials(lookup, svc.KeyEnv))
		cfg.Services[id] = svc
	}
}
