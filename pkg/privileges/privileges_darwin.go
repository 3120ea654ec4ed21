//go:build darwin

package privileges

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"os/user"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/rs/zerolog/log"
)

const dseditgroupPath = "/usr/sbin/dseditgroup"

// CLIToggle drives PrivilegesCLI and the local directory service. Only exit
// codes are interpreted, never command output.
type CLIToggle struct {
	// CLIPath is the PrivilegesCLI binary. Defaults to the one inside the
	// installed app bundle.
	CLIPath string
	// Timeout bounds each external command.
	Timeout time.Duration
}

func NewCLIToggle() *CLIToggle {
	return &CLIToggle{
		CLIPath: constant.PrivilegesCLIPath,
		Timeout: constant.DefaultCommandTimeout,
	}
}

func (t *CLIToggle) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return constant.DefaultCommandTimeout
}

// Tier checks membership of the admin group. dseditgroup exits zero when the
// user is a member and non-zero when not, so both outcomes are read off the
// exit code.
func (t *CLIToggle) Tier(ctx context.Context, username string) (Tier, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, dseditgroupPath, "-o", "checkmember", "-m", username, constant.AdminGroup)
	err := cmd.Run()
	if err == nil {
		return TierAdmin, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return TierStandard, nil
	}
	// Timed out, killed, or dseditgroup could not run at all: tier unknown.
	return "", &QueryError{User: username, Err: err}
}

// Grant elevates the user via PrivilegesCLI --add.
func (t *CLIToggle) Grant(ctx context.Context, username string) error {
	if _, err := t.runCLI(ctx, username, "--add"); err != nil {
		return fmt.Errorf("grant privileges for %q: %w", username, err)
	}
	return nil
}

// Revoke demotes the user via PrivilegesCLI --remove.
func (t *CLIToggle) Revoke(ctx context.Context, username string) error {
	exitCode, err := t.runCLI(ctx, username, "--remove")
	if err != nil {
		return &RevokeError{User: username, ExitCode: exitCode, Err: err}
	}
	return nil
}

// runCLI runs PrivilegesCLI with the given verb inside the user's session.
// PrivilegesCLI talks to the privileged helper over XPC and must run as the
// target user, hence launchctl asuser.
func (t *CLIToggle) runCLI(ctx context.Context, username, verb string) (exitCode int, err error) {
	exitCode = -1

	target, err := user.Lookup(username)
	if err != nil {
		return exitCode, fmt.Errorf("looking up user %s: %w", username, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	cliPath := t.CLIPath
	if cliPath == "" {
		cliPath = constant.PrivilegesCLIPath
	}

	log.Debug().Str("user", username).Str("verb", verb).Msg("running PrivilegesCLI")
	cmd := exec.CommandContext(ctx, "/bin/launchctl", "asuser", target.Uid, cliPath, verb)
	err = cmd.Run()
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return exitCode, err
	}
	return exitCode, nil
}
