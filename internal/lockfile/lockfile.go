// Package lockfile enforces spec.md §5's "two scheduler instances must not
// run concurrently" rule with an exclusive process-level lock file: the
// PID is written so a stale lock left by a crashed process can be
// recognized and reclaimed.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a held exclusive lock file; release it with Release.
type Lock struct {
	path string
	file *os.File
}

// ErrHeld is returned when another live process already holds the lock.
type ErrHeld struct {
	Path string
	PID  int
}

func (e *ErrHeld) Error() string {
	return fmt.Sprintf("lockfile: %s is held by pid %d", e.Path, e.PID)
}

// Acquire creates path exclusively and writes the current PID into it. If
// path already exists, Acquire checks whether the owning PID is still
// alive; a stale lock (owner gone) is reclaimed automatically.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
		return &Lock{path: path, file: f}, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("lockfile: create %s: %w", path, err)
	}

	pid, readErr := readPID(path)
	if readErr == nil && processAlive(pid) {
		return nil, &ErrHeld{Path: path, PID: pid}
	}

	// Stale lock: the PID in the file is gone (or unreadable). Reclaim
	// it rather than fail forever after an unclean shutdown.
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("lockfile: remove stale lock %s: %w", path, err)
	}
	return Acquire(path)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Release removes the lock file. Callers must hold the Lock returned by
// Acquire; releasing twice is a no-op error from the OS, not a panic.
func (l *Lock) Release() error {
	l.file.Close()
	return os.Remove(l.path)
}
