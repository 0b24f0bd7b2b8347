package appid

import (
	"context"
	"os"
	"strings"
)

// Identity describes the binary and its configuration namespace.
type Identity struct {
	BinaryName  string
	Vendor      string
	EnvPrefix   string
	ConfigName  string
	Description string
}

const (
	defaultBinaryName = "reelforge"
	defaultVendor     = "reelforge"
	defaultEnvPrefix  = "REELFORGE_"
)

// EnvBinaryName overrides the binary name reported in logs and banners.
const EnvBinaryName = "REELFORGE_BINARY_NAME"

// Get returns the process identity. The context is accepted for parity with
// other lookups that may become remote.
func Get(ctx context.Context) (*Identity, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	name := defaultBinaryName
	if override := strings.TrimSpace(os.Getenv(EnvBinaryName)); override != "" {
		name = override
	}

	return &Identity{
		BinaryName:  name,
		Vendor:      defaultVendor,
		EnvPrefix:   defaultEnvPrefix,
		ConfigName:  defaultBinaryName,
		Description: "Resilient orchestration of rate-limited text and media generation providers",
	}, nil
}

// EnvVar returns the fully prefixed environment variable for key.
func (i *Identity) EnvVar(key string) string {
	prefix := defaultEnvPrefix
	if i != nil && i.EnvPrefix != "" {
		prefix = i.EnvPrefix
	}
	return prefix + strings.ToUpper(strings.TrimSpace(key))
}
