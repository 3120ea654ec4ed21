// Package provision performs the one-shot device setup the MDM channel
// triggers at enrollment: install the Privileges app, register the launchd
// jobs for the privileged helper and the session monitor, put the app in the
// Dock, and mark completion so repeated check-ins are no-ops.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/platform"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/secure"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// Options configures a provisioning run. Zero-valued paths fall back to the
// deployment defaults in pkg/constant.
type Options struct {
	// RootDir is where privwatch keeps its state, including the completion
	// marker.
	RootDir string
	// AppZipURL is the zip archive holding Privileges.app. Empty skips the
	// app install (e.g. when MDM ships the app separately).
	AppZipURL string
	// DockutilPkgURL is the installer pkg for dockutil, installed only when
	// the binary is missing. Empty skips it.
	DockutilPkgURL string
	// ApplicationsDir is where the app bundle is extracted.
	ApplicationsDir string
	// LaunchDaemonPath and LaunchAgentPath are where the launchd plists are
	// written.
	LaunchDaemonPath string
	LaunchAgentPath  string
	// DockutilPath is the dockutil binary.
	DockutilPath string
	// AgentPath is the privwatch executable the LaunchAgent runs. Empty
	// resolves to the current executable.
	AgentPath string
	// CheckInterval and Timeout are baked into the LaunchAgent arguments.
	CheckInterval time.Duration
	Timeout       time.Duration
}

// execFunc runs an external command. Swappable in tests.
type execFunc func(ctx context.Context, name string, args ...string) error

// Provisioner runs the provisioning checklist.
type Provisioner struct {
	opt    Options
	client *http.Client
	execFn execFunc
}

func New(opt Options) *Provisioner {
	if opt.ApplicationsDir == "" {
		opt.ApplicationsDir = "/Applications"
	}
	if opt.LaunchDaemonPath == "" {
		opt.LaunchDaemonPath = constant.HelperLaunchDaemonPath
	}
	if opt.LaunchAgentPath == "" {
		opt.LaunchAgentPath = constant.WatchdogLaunchAgentPath
	}
	if opt.DockutilPath == "" {
		opt.DockutilPath = constant.DockutilPath
	}
	if opt.CheckInterval <= 0 {
		opt.CheckInterval = constant.DefaultCheckInterval
	}
	if opt.Timeout <= 0 {
		opt.Timeout = constant.DefaultTimeout
	}
	return &Provisioner{
		opt:    opt,
		client: &http.Client{},
		execFn: runCmdCollectErr,
	}
}

// Run executes the checklist. It is idempotent at two levels: the completion
// marker short-circuits whole runs, and each step checks its own target
// before acting. Failures in required steps abort before the marker is
// written, so the next MDM check-in retries; cosmetic steps (the Dock tile)
// are collected and reported without blocking completion.
func (p *Provisioner) Run(ctx context.Context) error {
	marker := filepath.Join(p.opt.RootDir, constant.ProvisionMarkerFileName)
	if _, err := os.Stat(marker); err == nil {
		log.Info().Str("marker", marker).Msg("device already provisioned, nothing to do")
		return nil
	}

	if err := secure.MkdirAll(p.opt.RootDir, constant.DefaultDirMode); err != nil {
		return fmt.Errorf("initialize root dir: %w", err)
	}

	if err := p.installApp(ctx); err != nil {
		return fmt.Errorf("install app: %w", err)
	}
	if err := p.installDockutil(ctx); err != nil {
		return fmt.Errorf("install dockutil: %w", err)
	}
	if err := p.registerLaunchdJobs(ctx); err != nil {
		return fmt.Errorf("register launchd jobs: %w", err)
	}

	var cosmetic *multierror.Error
	if err := p.addDockTile(ctx); err != nil {
		log.Error().Err(err).Msg("add Dock tile")
		cosmetic = multierror.Append(cosmetic, fmt.Errorf("add Dock tile: %w", err))
	}

	if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), constant.DefaultFileMode); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	log.Info().Str("marker", marker).Msg("provisioning complete")

	return cosmetic.ErrorOrNil()
}

// installApp downloads and extracts the Privileges app bundle unless it is
// already in place.
func (p *Provisioner) installApp(ctx context.Context) error {
	if p.opt.AppZipURL == "" {
		log.Debug().Msg("no app archive URL configured, skipping app install")
		return nil
	}

	bundlePath := filepath.Join(p.opt.ApplicationsDir, filepath.Base(constant.AppBundlePath))
	if _, err := os.Stat(bundlePath); err == nil {
		log.Info().Str("path", bundlePath).Msg("app bundle already installed")
		return nil
	}

	archive := filepath.Join(p.opt.RootDir, "privileges-app.zip")
	log.Info().Str("url", p.opt.AppZipURL).Msg("downloading app archive")
	if err := p.downloadFile(ctx, p.opt.AppZipURL, archive); err != nil {
		return err
	}
	defer os.Remove(archive)

	// A running instance would keep stale code mapped while we replace the
	// bundle underneath it.
	if err := platform.KillProcessByName(constant.AppExecName); err != nil && !errors.Is(err, platform.ErrProcessNotFound) {
		log.Info().Err(err).Msg("stop running app before install")
	}

	if err := extractZip(archive, p.opt.ApplicationsDir); err != nil {
		return err
	}
	log.Info().Str("path", bundlePath).Msg("app bundle installed")
	return nil
}

// installDockutil installs the dockutil pkg when the binary is missing.
func (p *Provisioner) installDockutil(ctx context.Context) error {
	if _, err := os.Stat(p.opt.DockutilPath); err == nil {
		return nil
	}
	if p.opt.DockutilPkgURL == "" {
		log.Debug().Msg("dockutil missing and no pkg URL configured, skipping")
		return nil
	}

	pkg := filepath.Join(p.opt.RootDir, "dockutil.pkg")
	if err := p.downloadFile(ctx, p.opt.DockutilPkgURL, pkg); err != nil {
		return err
	}
	defer os.Remove(pkg)

	log.Info().Str("pkg", pkg).Msg("installing dockutil")
	return p.execFn(ctx, "/usr/sbin/installer", "-pkg", pkg, "-target", "/")
}

// registerLaunchdJobs writes and loads the helper LaunchDaemon and the
// session monitor LaunchAgent.
func (p *Provisioner) registerLaunchdJobs(ctx context.Context) error {
	agentPath := p.opt.AgentPath
	if agentPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve agent executable: %w", err)
		}
		agentPath = exe
	}

	if err := writeLaunchdJob(p.opt.LaunchDaemonPath, helperDaemonJob()); err != nil {
		return err
	}
	if err := writeLaunchdJob(p.opt.LaunchAgentPath,
		watchdogAgentJob(agentPath, p.opt.RootDir, p.opt.CheckInterval, p.opt.Timeout)); err != nil {
		return err
	}

	for _, path := range []string{p.opt.LaunchDaemonPath, p.opt.LaunchAgentPath} {
		log.Info().Str("plist", path).Msg("loading launchd job")
		if err := p.execFn(ctx, "/bin/launchctl", "load", "-w", path); err != nil {
			return fmt.Errorf("launchctl load %s: %w", path, err)
		}
	}
	return nil
}

// addDockTile puts the app in the Dock for all user homes.
func (p *Provisioner) addDockTile(ctx context.Context) error {
	bundlePath := filepath.Join(p.opt.ApplicationsDir, filepath.Base(constant.AppBundlePath))
	return p.execFn(ctx, p.opt.DockutilPath, "--add", bundlePath, "--allhomes")
}

// runCmdCollectErr runs the command and folds stderr into the returned error.
func runCmdCollectErr(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, string(out))
	}
	return nil
}
