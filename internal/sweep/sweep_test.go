package sweep

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeAged creates a file whose mtime is age before now.
func writeAged(t *testing.T, dir, name string, now time.Time, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("dump"), 0600); err != nil {
		t.Fatal(err)
	}
	mtime := now.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRetentionBoundary(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	retention := 365 * 24 * time.Hour

	atThreshold := writeAged(t, dir, "at.sql.gz", now, retention)
	justUnder := writeAged(t, dir, "under.sql.gz", now, retention-time.Second)
	justOver := writeAged(t, dir, "over.sql.gz", now, retention+time.Second)

	entries, err := Select(dir, now.Add(-retention))
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != justOver {
		t.Fatalf("selected %v, want only %s", entries, justOver)
	}

	res, err := Run(dir, retention, false, now)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Selected != 1 || res.Deleted != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 selected, 1 deleted", res)
	}
	if _, err := os.Stat(justOver); !os.IsNotExist(err) {
		t.Error("file past the threshold was not deleted")
	}
	for _, kept := range []string{atThreshold, justUnder} {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("file %s within the threshold was deleted", kept)
		}
	}
}

func TestDryRunSelectsSameSetDeletesNothing(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	retention := 24 * time.Hour

	old1 := writeAged(t, dir, "a.sql.gz", now, 48*time.Hour)
	old2 := writeAged(t, dir, "b.sql.gz", now, 30*time.Hour)
	writeAged(t, dir, "fresh.sql.gz", now, time.Hour)

	res, err := Run(dir, retention, true, now)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if res.Selected != 2 {
		t.Errorf("dry run selected %d files, want 2", res.Selected)
	}
	if res.Deleted != 0 {
		t.Errorf("dry run deleted %d files", res.Deleted)
	}
	for _, path := range []string{old1, old2} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("dry run removed %s", path)
		}
	}
}

func TestSweepRecursesIntoDatedDirs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	sub := filepath.Join(dir, "2024-01-01")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	old := writeAged(t, sub, "db.sql.gz", now, 400*24*time.Hour)

	res, err := Run(dir, 365*24*time.Hour, false, now)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("deleted %d, want 1", res.Deleted)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("nested old file was not deleted")
	}
}
