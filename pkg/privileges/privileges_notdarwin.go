//go:build !darwin

package privileges

import (
	"context"
	"time"
)

// CLIToggle is only functional on macOS; this stub keeps the agent building
// on other platforms.
type CLIToggle struct {
	CLIPath string
	Timeout time.Duration
}

func NewCLIToggle() *CLIToggle {
	return &CLIToggle{}
}

func (t *CLIToggle) Tier(ctx context.Context, username string) (Tier, error) {
	return "", &QueryError{User: username, Err: ErrNotImplemented}
}

func (t *CLIToggle) Grant(ctx context.Context, username string) error {
	return ErrNotImplemented
}

func (t *CLIToggle) Revoke(ctx context.Context, username string) error {
	return &RevokeError{User: username, ExitCode: -1, Err: ErrNotImplemented}
}
