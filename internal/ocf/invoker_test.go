package ocf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript writes an executable shell script to dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func TestInvoke_SuccessReturnsZero(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "#!/bin/sh\nexit 0\n")

	inv := New(dir)
	result, err := inv.Invoke(context.Background(), script, ActionMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess, result.Code)
}

func TestInvoke_NotRunningReturnsSeven(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "#!/bin/sh\nexit 7\n")

	inv := New(dir)
	result, err := inv.Invoke(context.Background(), script, ActionMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, CodeNotRunning, result.Code)
}

func TestInvoke_NonZeroSurfacesVerbatim(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "#!/bin/sh\nexit 13\n")

	inv := New(dir)
	result, err := inv.Invoke(context.Background(), script, ActionStart, nil)
	require.NoError(t, err)
	assert.Equal(t, 13, result.Code)
}

func TestInvoke_ParamsExportedAsOcfReskey(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", `#!/bin/sh
if [ "$OCF_RESKEY_device" = "/dev/sdb1" ]; then
  exit 0
fi
exit 1
`)

	inv := New(dir)
	params := []Param{{Key: "device", Value: "/dev/sdb1"}}
	result, err := inv.Invoke(context.Background(), script, ActionStart, params)
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess, result.Code)
}

func TestInvoke_TimeoutSynthesizesError(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "#!/bin/sh\nsleep 5\nexit 0\n")

	inv := New(dir)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Monitor's own 10s budget is larger than our test context deadline,
	// so the outer context governs here and we still expect a timeout.
	_, err := inv.Invoke(ctx, script, ActionMonitor, nil)
	require.Error(t, err)
}

func TestInvoke_SpawnFailureIsUnavailable(t *testing.T) {
	inv := New(t.TempDir())
	_, err := inv.Invoke(context.Background(), "/nonexistent/path/to/agent", ActionMonitor, nil)
	require.Error(t, err)
}
