//go:build !darwin

package console

// CurrentUser is only implemented on macOS.
func CurrentUser() (User, error) {
	return User{}, ErrNotImplemented
}
