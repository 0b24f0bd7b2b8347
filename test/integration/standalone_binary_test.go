package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildBinary compiles the CLI and moves it into an empty directory so it
// cannot see the repository's config or schemas.
func buildBinary(t *testing.T) string {
	t.Helper()

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	root := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", root, "test must run inside the module")

	built := filepath.Join(t.TempDir(), "reelforge")
	build := exec.Command("go", "build", "-o", built, "./cmd/reelforge")
	build.Dir = root
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)

	data, err := os.ReadFile(built)
	require.NoError(t, err)
	isolated := filepath.Join(t.TempDir(), "reelforge")
	require.NoError(t, os.WriteFile(isolated, data, 0o755))
	return isolated
}

func runBinary(t *testing.T, binary string, env []string, args ...string) string {
	t.Helper()
	c := exec.Command(binary, args...)
	c.Dir = filepath.Dir(binary)
	c.Env = append(os.Environ(), env...)
	out, err := c.CombinedOutput()
	require.NoError(t, err, "%s %s:\n%s", filepath.Base(binary), strings.Join(args, " "), out)
	return string(out)
}

func TestStandaloneBinaryRunsOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec of a copied binary is only exercised on unix")
	}
	binary := buildBinary(t)
	home := filepath.Dir(binary)

	require.Contains(t, runBinary(t, binary, nil, "version"), "reelforge")
	runBinary(t, binary, nil, "--help")

	listed := runBinary(t, binary, []string{
		"XDG_CONFIG_HOME=" + home,
		"TEXT_API_KEY=integration-text-key-0001",
		"TEXT_API_KEY_2=integration-text-key-0002",
	}, "keys", "list", "--output-format", "json")
	require.NotContains(t, listed, "integration-text-key-0001", "keys list leaked a secret")
	require.Contains(t, listed, `"total": 2`)
}
