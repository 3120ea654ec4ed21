// Package console resolves the user currently logged into the graphical
// session. The watchdog observes this session; it has no authority to create
// or end it.
package console

import "errors"

var (
	// ErrNoConsoleUser means nobody owns the console right now (loginwindow
	// or another system account holds it). The monitor treats this as an
	// idle tick.
	ErrNoConsoleUser = errors.New("no console user")

	ErrNotImplemented = errors.New("not implemented on this platform")
)

// User identifies the console user.
type User struct {
	Name string
	UID  uint32
	GID  uint32
}
