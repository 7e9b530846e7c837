package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.StartRun(ctx, "plesk-backup")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	if err := s.RecordUnit(ctx, id, "shop_prod", UnitOK, "", 1024); err != nil {
		t.Fatalf("record unit: %v", err)
	}
	if err := s.RecordUnit(ctx, id, "blog", UnitFailed, "mysqldump: exit status 2", 0); err != nil {
		t.Fatalf("record unit: %v", err)
	}

	if err := s.FinishRun(ctx, id, 2, 1, 1, 1024); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	last, err := s.LastRun(ctx, "plesk-backup")
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last.ID != id {
		t.Errorf("last run id = %s, want %s", last.ID, id)
	}
	if last.Total != 2 || last.Succeeded != 1 || last.Failed != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", last.Total, last.Succeeded, last.Failed)
	}
	if last.Bytes != 1024 {
		t.Errorf("bytes = %d, want 1024", last.Bytes)
	}
	if last.FinishedAt == nil {
		t.Error("finished run missing finish time")
	}
}

func TestLastRunIgnoresUnfinishedAndOtherTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// An unfinished run (crashed instance) and a run of a different task
	// must both be invisible to LastRun.
	if _, err := s.StartRun(ctx, "plesk-backup"); err != nil {
		t.Fatal(err)
	}
	other, err := s.StartRun(ctx, "plesk-cleanup")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, other, 5, 5, 0, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LastRun(ctx, "plesk-backup"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}

	last, err := s.LastRun(ctx, "plesk-cleanup")
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if last.ID != other {
		t.Errorf("last run id = %s, want %s", last.ID, other)
	}
}
