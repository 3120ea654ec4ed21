//go:build !windows

// Package secure creates files and directories while refusing to reuse
// existing paths whose modes are more permissive than requested. The agent
// runs as root and writes state other users must not be able to tamper with.
package secure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// isMorePermissive reports whether current grants group or world bits beyond
// what want allows. Owner bits are not compared.
func isMorePermissive(current, want os.FileMode) bool {
	return current&0o070 > want&0o070 || current&0o007 > want&0o007
}

// checkPath walks from path toward the root and validates the first existing
// ancestor: it must be a directory and must not be more permissive than perm.
func checkPath(path string, perm os.FileMode) error {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// keep walking up
		case err != nil:
			return err
		case !info.IsDir():
			return &os.PathError{Op: "mkdir", Path: p, Err: syscall.ENOTDIR}
		case isMorePermissive(info.Mode().Perm(), perm.Perm()):
			return fmt.Errorf("path %s already exists with mode %o instead of the expected %o",
				p, info.Mode().Perm(), perm.Perm())
		default:
			return nil
		}
		if p == filepath.Dir(p) {
			return nil
		}
	}
}

// MkdirAll is os.MkdirAll with a permission check on any existing portion of
// the path.
func MkdirAll(path string, perm os.FileMode) error {
	if err := checkPath(path, perm); err != nil {
		return err
	}
	return os.MkdirAll(path, perm)
}

// OpenFile is os.OpenFile with a permission check on the file (when it
// already exists) and its parent directories.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	info, err := os.Stat(name)
	if err == nil && info.Mode().Perm() != perm.Perm() {
		return nil, fmt.Errorf("file %s already exists with mode %o instead of the expected %o",
			name, info.Mode().Perm(), perm.Perm())
	}
	if err := checkPath(filepath.Dir(name), perm); err != nil {
		return nil, err
	}
	return os.OpenFile(name, flag, perm)
}
