package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// acquirePIDFile writes the current PID to path under an exclusive,
// non-blocking flock held for the life of the serve process. The returned
// release function removes the file and drops the lock.
func acquirePIDFile(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("pid file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating pid file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	fail := func(format string, cause error) (func(), error) {
		f.Close()

		return nil, fmt.Errorf(format, cause)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fail("acctsync serve is already running (lock on "+path+" held): %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return fail("truncating pid file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("writing pid file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fail("syncing pid file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPID parses the PID recorded at path.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s does not hold a process id", path)
	}

	return pid, nil
}

// signalServe sends SIGHUP to the serve process recorded at pidPath. A pid
// file naming a dead process is removed.
func signalServe(pidPath string) (int, error) {
	pid, err := readPID(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("acctsync serve is not running (no pid file at %s)", pidPath)
	}

	if err != nil {
		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return 0, fmt.Errorf("acctsync serve (pid %d) is not running; removed stale pid file", pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("signaling pid %d: %w", pid, err)
	}

	return pid, nil
}
