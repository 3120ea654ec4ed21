//go:build darwin

package console

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
)

// CurrentUser returns the current (or more accurately, most recently logged
// in) console user. The agent itself typically runs as root; the owner of
// /dev/console is the underlying session user we care about.
func CurrentUser() (User, error) {
	info, err := os.Stat("/dev/console")
	if err != nil {
		return User{}, fmt.Errorf("stat /dev/console: %w", err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return User{}, fmt.Errorf("unexpected stat type %T", info.Sys())
	}

	if stat.Uid < constant.MinConsoleUID {
		return User{}, ErrNoConsoleUser
	}

	u, err := user.LookupId(strconv.FormatUint(uint64(stat.Uid), 10))
	if err != nil {
		return User{}, fmt.Errorf("look up console uid %d: %w", stat.Uid, err)
	}

	return User{Name: u.Username, UID: stat.Uid, GID: stat.Gid}, nil
}
