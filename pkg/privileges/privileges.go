// Package privileges is the boundary to the external privilege toggle (the
// PrivilegesCLI tool shipped with the Privileges app). The watchdog only
// drives this capability; it never modifies group membership itself.
package privileges

import (
	"context"
	"errors"
	"fmt"
)

// Tier is a user's privilege level.
type Tier string

const (
	TierStandard Tier = "standard"
	TierAdmin    Tier = "admin"
)

var ErrNotImplemented = errors.New("not implemented on this platform")

// Toggle exposes the elevation capability. All operations are idempotent:
// revoking an already-standard user succeeds trivially, as does granting an
// admin. Implementations must respect context cancellation so a hung
// external command cannot stall the caller.
type Toggle interface {
	// Tier reports the user's current privilege tier. Failures are returned
	// as *QueryError.
	Tier(ctx context.Context, user string) (Tier, error)
	// Grant elevates the user to admin. Never called by the watchdog loop;
	// exposed for operator-initiated elevation.
	Grant(ctx context.Context, user string) error
	// Revoke demotes the user to standard. Failures are returned as
	// *RevokeError.
	Revoke(ctx context.Context, user string) error
}

// QueryError means the user's group membership could not be determined. The
// monitor treats it as "tier unknown" and skips the tick: revoke must never
// run without a confirmed admin tier.
type QueryError struct {
	User string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query privilege tier for %q: %s", e.User, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// RevokeError means the underlying privilege-modification command exited
// non-zero. ExitCode is -1 when the command never ran or was killed.
type RevokeError struct {
	User     string
	ExitCode int
	Err      error
}

func (e *RevokeError) Error() string {
	return fmt.Sprintf("revoke privileges for %q (exit %d): %s", e.User, e.ExitCode, e.Err)
}

func (e *RevokeError) Unwrap() error { return e.Err }
