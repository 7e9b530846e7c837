package lock

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func newTestManager(path string) *Manager {
	m := NewManager(path)
	m.settle = time.Millisecond
	return m
}

func readPid(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		t.Fatalf("lock file content %q is not a pid", data)
	}
	return pid
}

func TestAcquireFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.lock")
	h, err := newTestManager(path).Acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer h.Release()

	if got := readPid(t, path); got != os.Getpid() {
		t.Errorf("lock file holds pid %d, want %d", got, os.Getpid())
	}
}

// exitedChildPid returns the pid of a child process that has already
// terminated, i.e. a pid that is known to be dead.
func exitedChildPid(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run helper process: %v", err)
	}
	return cmd.ProcessState.Pid()
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.lock")
	stale := exitedChildPid(t)
	if err := os.WriteFile(path, []byte(strconv.Itoa(stale)), 0644); err != nil {
		t.Fatal(err)
	}

	killed := 0
	m := newTestManager(path)
	realKill := m.kill
	m.kill = func(pid int) error {
		killed++
		if pid != stale {
			t.Errorf("tried to kill pid %d, want %d", pid, stale)
		}
		return realKill(pid)
	}

	h, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire over stale lock failed: %v", err)
	}
	defer h.Release()

	if killed != 1 {
		t.Errorf("kill attempted %d times, want 1", killed)
	}
	if got := readPid(t, path); got != os.Getpid() {
		t.Errorf("lock file holds pid %d, want %d", got, os.Getpid())
	}
}

func TestAcquireReclaimsGarbageLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.lock")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(path)
	m.kill = func(pid int) error {
		t.Errorf("unexpected kill of pid %d", pid)
		return nil
	}

	h, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire over garbage lock failed: %v", err)
	}
	defer h.Release()

	if got := readPid(t, path); got != os.Getpid() {
		t.Errorf("lock file holds pid %d, want %d", got, os.Getpid())
	}
}

func TestAcquireUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "task.lock")
	if _, err := newTestManager(path).Acquire(); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestReleaseRemovesLockOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.lock")
	h, err := newTestManager(path).Acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	h.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release")
	}

	// A second release must not remove a lock taken by a newer instance.
	if err := os.WriteFile(path, []byte("12345"), 0644); err != nil {
		t.Fatal(err)
	}
	h.Release()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("second release removed a foreign lock file: %v", err)
	}
}
