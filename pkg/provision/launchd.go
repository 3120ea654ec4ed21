package provision

import (
	"fmt"
	"os"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/secure"
	"github.com/groob/plist"
)

// launchdJob is the subset of the launchd.plist schema the deployment needs.
type launchdJob struct {
	Label                  string          `plist:"Label"`
	Program                string          `plist:"Program,omitempty"`
	ProgramArguments       []string        `plist:"ProgramArguments,omitempty"`
	MachServices           map[string]bool `plist:"MachServices,omitempty"`
	RunAtLoad              bool            `plist:"RunAtLoad"`
	StartInterval          int             `plist:"StartInterval,omitempty"`
	LimitLoadToSessionType string          `plist:"LimitLoadToSessionType,omitempty"`
	StandardOutPath        string          `plist:"StandardOutPath,omitempty"`
	StandardErrorPath      string          `plist:"StandardErrorPath,omitempty"`
}

// helperDaemonJob is the LaunchDaemon for the privileged helper tool the
// Privileges app installs via SMJobBless.
func helperDaemonJob() launchdJob {
	return launchdJob{
		Label:   constant.HelperLaunchDaemonLabel,
		Program: "/Library/PrivilegedHelperTools/" + constant.HelperLaunchDaemonLabel,
		MachServices: map[string]bool{
			constant.HelperLaunchDaemonLabel: true,
		},
		RunAtLoad: true,
	}
}

// watchdogAgentJob is the per-session LaunchAgent that runs the session
// monitor. launchd's StartInterval relaunch is the scheduling adapter: it
// guarantees one invocation per interval, scoped to the Aqua session.
func watchdogAgentJob(agentPath, rootDir string, checkInterval, timeout time.Duration) launchdJob {
	return launchdJob{
		Label: constant.WatchdogLaunchAgentLabel,
		ProgramArguments: []string{
			agentPath,
			"run",
			"--once",
			"--root-dir", rootDir,
			"--timeout", fmt.Sprintf("%d", int(timeout.Seconds())),
			"--check-interval", checkInterval.String(),
		},
		RunAtLoad:              true,
		StartInterval:          int(checkInterval.Seconds()),
		LimitLoadToSessionType: "Aqua",
		StandardOutPath:        "/var/log/privwatch.log",
		StandardErrorPath:      "/var/log/privwatch.log",
	}
}

// writeLaunchdJob marshals the job to path. Launchd requires the plist to be
// root-owned and world-readable.
func writeLaunchdJob(path string, job launchdJob) error {
	data, err := plist.MarshalIndent(job, "\t")
	if err != nil {
		return fmt.Errorf("marshal launchd job %s: %w", job.Label, err)
	}

	f, err := secure.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constant.DefaultLaunchdJobMode)
	if err != nil {
		return fmt.Errorf("open launchd plist %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write launchd plist %s: %w", path, err)
	}
	return f.Close()
}
