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

// The binary ships with an embedded app identity, so version and help must
// work from a directory with no .fulmen/app.yaml in sight.
func TestBinaryRunsOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("binary copy/exec test is unix-focused")
	}

	out, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	goMod := strings.TrimSpace(string(out))
	require.NotEmpty(t, goMod)

	binary := filepath.Join(t.TempDir(), "pressgate")
	build := exec.Command("go", "build", "-o", binary, "./cmd/pressgate")
	build.Dir = filepath.Dir(goMod)
	build.Env = os.Environ()
	buildOut, err := build.CombinedOutput()
	require.NoError(t, err, "go build: %s", buildOut)

	// Copy by hand rather than shelling out to cp.
	outside := t.TempDir()
	copied := filepath.Join(outside, "pressgate")
	data, err := os.ReadFile(binary)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(copied, data, 0o755))

	for _, args := range [][]string{{"version"}, {"--help"}} {
		cmd := exec.Command(copied, args...)
		cmd.Dir = outside
		cmdOut, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v failed: %s", args, cmdOut)
	}
}
