package provision

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/groob/plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogAgentJob(t *testing.T) {
	t.Parallel()

	job := watchdogAgentJob("/usr/local/bin/privwatch", "/var/db/privwatch", 30*time.Second, 2*time.Hour)

	assert.Equal(t, constant.WatchdogLaunchAgentLabel, job.Label)
	assert.Equal(t, 30, job.StartInterval)
	assert.Equal(t, "Aqua", job.LimitLoadToSessionType)
	assert.True(t, job.RunAtLoad)
	assert.Equal(t, []string{
		"/usr/local/bin/privwatch",
		"run",
		"--once",
		"--root-dir", "/var/db/privwatch",
		"--timeout", "7200",
		"--check-interval", "30s",
	}, job.ProgramArguments)
}

func TestHelperDaemonJob(t *testing.T) {
	t.Parallel()

	job := helperDaemonJob()
	assert.Equal(t, constant.HelperLaunchDaemonLabel, job.Label)
	assert.True(t, job.MachServices[constant.HelperLaunchDaemonLabel])
	assert.True(t, job.RunAtLoad)
}

func TestWriteLaunchdJob(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "com.github.privwatch.checker.plist")
	job := watchdogAgentJob("/usr/local/bin/privwatch", "/var/db/privwatch", time.Minute, time.Hour)
	require.NoError(t, writeLaunchdJob(path, job))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(constant.DefaultLaunchdJobMode), info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got launchdJob
	require.NoError(t, plist.Unmarshal(data, &got))
	assert.Equal(t, job.Label, got.Label)
	assert.Equal(t, job.ProgramArguments, got.ProgramArguments)
	assert.Equal(t, job.StartInterval, got.StartInterval)
	assert.Equal(t, job.LimitLoadToSessionType, got.LimitLoadToSessionType)
}
