package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// pidFileName names the watch daemon's PID file inside the data directory.
const pidFileName = "watch.pid"

// pidFilePermissions is owner rw, group/other r.
const pidFilePermissions = 0o644

// pidDirPermissions matches the data directory permissions.
const pidDirPermissions = 0o700

// errDaemonRunning is returned when another sync --watch holds the PID file.
var errDaemonRunning = errors.New("another sync --watch is already running")

// writePIDFile records the current process ID at path under an exclusive
// lock. The returned cleanup removes the file and releases the lock.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty, cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking PID file %s: %w", path, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w (could not lock %s)", errDaemonRunning, path)
	}

	// The lock holds the file open; write through a second handle so the
	// locked descriptor stays untouched.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), pidFilePermissions); err != nil {
		lock.Unlock()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		lock.Unlock()
	}, nil
}

// readPIDFile reads the PID from path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// sendSIGHUP asks the running watch daemon to reload its config. A PID
// file left by a dead process is removed.
func sendSIGHUP(pidPath string) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no running daemon found (no PID file at %s)", pidPath)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("daemon (PID %d) is not running (stale PID file removed)", pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to daemon (PID %d): %w", pid, err)
	}

	return nil
}

// notifyDaemon pokes a running sync --watch after a config edit. Failure
// is not an error: the change applies on the next start.
func notifyDaemon(cc *CLIContext, dataDir string) {
	if dataDir == "" {
		return
	}

	if err := sendSIGHUP(filepath.Join(dataDir, pidFileName)); err != nil {
		cc.Logger.Debug("daemon not notified", "error", err)
		cc.Statusf("Changes take effect on the next sync\n")

		return
	}

	cc.Statusf("Notified running sync --watch to reload config\n")
}
