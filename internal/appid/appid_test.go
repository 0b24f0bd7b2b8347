package appid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_Defaults(t *testing.T) {
	t.Setenv(EnvBinaryName, "")

	identity, err := Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "reelforge", identity.BinaryName)
	require.Equal(t, "REELFORGE_", identity.EnvPrefix)
	require.Equal(t, "reelforge", identity.ConfigName)
}

func TestGet_BinaryNameOverride(t *testing.T) {
	t.Setenv(EnvBinaryName, "rf")

	identity, err := Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rf", identity.BinaryName)
}

func TestGet_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIdentity_EnvVar(t *testing.T) {
	identity := &Identity{EnvPrefix: "RF_"}
	require.Equal(t, "RF_TEXT_API_KEY", identity.EnvVar("text_api_key"))

	var nilIdentity *Identity
	require.Equal(t, "REELFORGE_TRACE", nilIdentity.EnvVar("trace"))
}
