// Package platform has process and pidfile helpers, used for the
// one-monitor-per-session guard and for replacing a running app bundle
// during provisioning.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/mitchellh/go-ps"
	"github.com/rs/zerolog/log"
	gopsutil_process "github.com/shirou/gopsutil/v3/process"
)

var ErrProcessNotFound = errors.New("process not found")

// GetProcessByName returns the first running process whose name starts with
// name.
func GetProcessByName(name string) (*gopsutil_process.Process, error) {
	if name == "" {
		return nil, fmt.Errorf("process name must not be empty")
	}

	processes, err := gopsutil_process.Processes()
	if err != nil {
		return nil, err
	}

	for _, process := range processes {
		processName, err := process.Name()
		if err != nil {
			log.Debug().Err(err).Int32("pid", process.Pid).Msg("get process name")
			continue
		}
		if strings.HasPrefix(processName, name) {
			return process, nil
		}
	}

	return nil, ErrProcessNotFound
}

// KillProcessByName kills a single process by its name.
func KillProcessByName(name string) error {
	process, err := GetProcessByName(name)
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}

	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", process.Pid, err)
	}

	return nil
}

// WritePidFile records the current process pid in destDir/destFile.
func WritePidFile(destDir, destFile string) error {
	pidFilePath := filepath.Join(destDir, destFile)
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(pidFilePath, []byte(pid), constant.DefaultFileMode); err != nil {
		return fmt.Errorf("write pidfile %s: %w", pidFilePath, err)
	}
	return nil
}

// ReadPidFromFile reads a pid from destDir/destFile.
func ReadPidFromFile(destDir, destFile string) (int, error) {
	pidFilePath := filepath.Join(destDir, destFile)
	data, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, fmt.Errorf("read pidfile %s: %w", pidFilePath, err)
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// ProcessNameMatches reports whether the process running with the given pid
// matches the executable name (case insensitive). If no process runs with
// the given pid then (false, nil) is returned.
func ProcessNameMatches(pid int, expectedPrefix string) (bool, error) {
	if pid == 0 || expectedPrefix == "" {
		return false, fmt.Errorf("invalid arguments were provided")
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("find process %d: %w", pid, err)
	}
	if process == nil {
		return false, nil
	}

	return strings.HasPrefix(strings.ToLower(process.Executable()), strings.ToLower(expectedPrefix)), nil
}

// AnotherInstanceRunning reports whether a live process recorded in the
// pidfile still matches the expected executable name. A missing pidfile, or
// a pid recycled by an unrelated process, reads as "not running".
func AnotherInstanceRunning(destDir, pidFileName, expectedExecName string) (bool, error) {
	pid, err := ReadPidFromFile(destDir, pidFileName)
	switch {
	case err == nil:
		// OK
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}

	if pid == os.Getpid() {
		return false, nil
	}

	matches, err := ProcessNameMatches(pid, expectedExecName)
	if err != nil {
		return false, fmt.Errorf("inspecting process %d: %w", pid, err)
	}
	return matches, nil
}
