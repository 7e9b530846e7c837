// Package lock guards the scheduled maintenance tasks against overlapping
// invocations with a PID file.
//
// The guard favours availability over strict mutual exclusion: when a lock
// file already exists, the recorded owner is killed and the lock is reclaimed
// unconditionally. An overrunning previous run is preempted rather than
// blocking the schedule. The recorded PID may have been recycled by an
// unrelated process since the previous run; callers that need true mutual
// exclusion should use an OS-level file lock instead.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrLockFile indicates the lock file itself could not be written. This is
// the only fatal acquisition failure; the protected task must not run.
var ErrLockFile = errors.New("cannot write lock file")

const defaultSettleDelay = 100 * time.Millisecond

// Manager acquires and reclaims the lock at a fixed path.
type Manager struct {
	path   string
	settle time.Duration
	kill   func(pid int) error
}

// NewManager creates a lock manager for the given lock file path.
func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		settle: defaultSettleDelay,
		kill:   killProcess,
	}
}

// Acquire takes ownership of the lock, preempting any recorded holder.
// The returned handle must be released on every exit path; Release is
// idempotent so both a deferred call and a signal handler may invoke it.
func (m *Manager) Acquire() (*Handle, error) {
	if data, err := os.ReadFile(m.path); err == nil {
		m.reclaim(data)
	}

	pid := os.Getpid()
	if err := os.WriteFile(m.path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockFile, err)
	}
	slog.Debug("lock acquired", "path", m.path, "pid", pid)
	return &Handle{path: m.path}, nil
}

// reclaim terminates the recorded owner of an existing lock file and removes
// the file. Every failure here is a warning: the lock is taken over regardless.
func (m *Manager) reclaim(data []byte) {
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	switch {
	case err != nil || pid <= 0:
		slog.Warn("lock file has no usable pid, reclaiming", "path", m.path, "content", raw)
	case pid == os.Getpid():
		// Our own pid, e.g. a re-exec after self-update.
	default:
		slog.Warn("lock file exists, terminating previous instance", "path", m.path, "pid", pid)
		if killErr := m.kill(pid); killErr != nil {
			slog.Info("previous instance already gone", "pid", pid, "detail", killErr)
		}
	}

	// Let the process table settle before the pid is reused by us.
	time.Sleep(m.settle)

	if rmErr := os.Remove(m.path); rmErr != nil && !os.IsNotExist(rmErr) {
		slog.Warn("failed to remove stale lock file", "path", m.path, "error", rmErr)
	}
}

// killProcess sends an immediate termination signal to pid. A vanished
// process reports an error here, which callers treat as already-gone.
func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Handle represents ownership of an acquired lock.
type Handle struct {
	path string
	once sync.Once
}

// Release removes the lock file. Safe to call more than once; only the
// first call deletes the file.
func (h *Handle) Release() {
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove lock file", "path", h.path, "error", err)
		}
	})
}

// Path returns the lock file path backing this handle.
func (h *Handle) Path() string {
	return h.path
}
