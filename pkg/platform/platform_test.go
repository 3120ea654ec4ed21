package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, WritePidFile(dir, constant.WatchdogPidfile))

	pid, err := ReadPidFromFile(dir, constant.WatchdogPidfile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPidFromFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadPidFromFile(t.TempDir(), "nope.pid")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestAnotherInstanceRunning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// No pidfile at all.
	running, err := AnotherInstanceRunning(dir, constant.WatchdogPidfile, constant.WatchdogExecName)
	require.NoError(t, err)
	assert.False(t, running)

	// Our own pid never counts as another instance.
	require.NoError(t, WritePidFile(dir, constant.WatchdogPidfile))
	running, err = AnotherInstanceRunning(dir, constant.WatchdogPidfile, constant.WatchdogExecName)
	require.NoError(t, err)
	assert.False(t, running)

	// A live pid owned by a different executable does not count either
	// (recycled pid after reboot). Pid 1 is always alive and is never us.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recycled.pid"), []byte("1"), 0o600))
	running, err = AnotherInstanceRunning(dir, "recycled.pid", "definitely-not-this-executable")
	require.NoError(t, err)
	assert.False(t, running)

	// A stale pid that no process owns reads as not running.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.pid"), []byte("999999"), 0o600))
	running, err = AnotherInstanceRunning(dir, "stale.pid", constant.WatchdogExecName)
	require.NoError(t, err)
	assert.False(t, running)
}
