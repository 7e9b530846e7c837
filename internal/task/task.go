// Package task orchestrates the scheduled maintenance work: the database
// backup run and the retention cleanup. Both follow fail-at-end semantics:
// every unit is attempted, per-unit failures are counted, and the process
// exit code reflects the aggregate only after the whole run.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/architecpoint/plesk-scripts/internal/history"
	"github.com/architecpoint/plesk-scripts/internal/sweep"
)

// Dumper is the dump-provider capability the backup task consumes.
type Dumper interface {
	ListDatabases(ctx context.Context) ([]string, error)
	DumpDatabase(ctx context.Context, name, destPath string) (int64, error)
}

// Recorder persists run history. *history.Store implements it; tasks accept
// nil when the history database is unavailable.
type Recorder interface {
	StartRun(ctx context.Context, task string) (string, error)
	RecordUnit(ctx context.Context, runID, name, status, message string, bytes int64) error
	FinishRun(ctx context.Context, id string, total, succeeded, failed int, bytes int64) error
}

// Summary aggregates a run's per-unit outcomes.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Bytes     int64
}

// ExitCode maps the summary onto the process exit code: any failed unit
// makes the whole run fail.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

func (s Summary) log(name string, elapsed time.Duration) {
	slog.Info(name+" summary",
		"total", s.Total,
		"success", s.Succeeded,
		"failed", s.Failed,
		"size", humanize.Bytes(uint64(s.Bytes)),
		"elapsed", elapsed.Round(time.Second),
	)
}

// Backup dumps every database on the server into a dated directory.
type Backup struct {
	Name      string
	BackupDir string
	Dumper    Dumper
	Recorder  Recorder // may be nil
	now       func() time.Time
}

// NewBackup creates the backup task.
func NewBackup(name, backupDir string, dumper Dumper, rec Recorder) *Backup {
	return &Backup{
		Name:      name,
		BackupDir: backupDir,
		Dumper:    dumper,
		Recorder:  rec,
		now:       time.Now,
	}
}

// Run performs one backup pass. Enumeration and directory-creation failures
// are fatal; individual dump failures are counted and the remaining
// databases are still attempted.
func (b *Backup) Run(ctx context.Context) (Summary, error) {
	start := b.now()

	names, err := b.Dumper.ListDatabases(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("enumerating databases: %w", err)
	}

	destDir := filepath.Join(b.BackupDir, start.Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return Summary{}, fmt.Errorf("creating backup directory: %w", err)
	}

	runID := b.startRun(ctx)
	slog.Info("backup run started", "databases", len(names), "dir", destDir)

	sum := Summary{Total: len(names)}
	for _, name := range names {
		dest := filepath.Join(destDir, name+".sql.gz")
		written, err := b.Dumper.DumpDatabase(ctx, name, dest)
		if err != nil {
			sum.Failed++
			slog.Error("dump failed", "database", name, "error", err)
			b.recordUnit(ctx, runID, name, history.UnitFailed, err.Error(), 0)
			continue
		}
		sum.Succeeded++
		sum.Bytes += written
		slog.Info("dump complete", "database", name, "file", dest, "size", humanize.Bytes(uint64(written)))
		b.recordUnit(ctx, runID, name, history.UnitOK, "", written)
	}

	b.finishRun(ctx, runID, sum)
	sum.log(b.Name, b.now().Sub(start))
	return sum, nil
}

// Cleanup removes dump files older than the retention threshold.
type Cleanup struct {
	Name      string
	Dir       string
	Retention time.Duration
	DryRun    bool
	Recorder  Recorder // may be nil
	now       func() time.Time
}

// NewCleanup creates the retention-sweep task.
func NewCleanup(name, dir string, retention time.Duration, dryRun bool, rec Recorder) *Cleanup {
	return &Cleanup{
		Name:      name,
		Dir:       dir,
		Retention: retention,
		DryRun:    dryRun,
		Recorder:  rec,
		now:       time.Now,
	}
}

// Run performs one sweep pass.
func (c *Cleanup) Run(ctx context.Context) (Summary, error) {
	start := c.now()
	slog.Info("cleanup run started", "dir", c.Dir, "retention", c.Retention, "dry_run", c.DryRun)

	res, err := sweep.Run(c.Dir, c.Retention, c.DryRun, start)
	if err != nil {
		return Summary{}, fmt.Errorf("sweeping %s: %w", c.Dir, err)
	}

	sum := Summary{Total: res.Selected, Failed: res.Failed, Bytes: res.Bytes}
	if c.DryRun {
		sum.Succeeded = res.Selected
	} else {
		sum.Succeeded = res.Deleted
	}

	if runID := c.startRun(ctx); runID != "" {
		c.record(ctx, runID, sum)
	}
	sum.log(c.Name, c.now().Sub(start))
	return sum, nil
}

func (b *Backup) startRun(ctx context.Context) string {
	if b.Recorder == nil {
		return ""
	}
	id, err := b.Recorder.StartRun(ctx, b.Name)
	if err != nil {
		slog.Warn("failed to record run start", "error", err)
		return ""
	}
	return id
}

func (b *Backup) recordUnit(ctx context.Context, runID, name, status, message string, bytes int64) {
	if b.Recorder == nil || runID == "" {
		return
	}
	if err := b.Recorder.RecordUnit(ctx, runID, name, status, message, bytes); err != nil {
		slog.Warn("failed to record unit result", "database", name, "error", err)
	}
}

func (b *Backup) finishRun(ctx context.Context, runID string, sum Summary) {
	if b.Recorder == nil || runID == "" {
		return
	}
	if err := b.Recorder.FinishRun(ctx, runID, sum.Total, sum.Succeeded, sum.Failed, sum.Bytes); err != nil {
		slog.Warn("failed to record run finish", "error", err)
	}
}

func (c *Cleanup) startRun(ctx context.Context) string {
	if c.Recorder == nil {
		return ""
	}
	id, err := c.Recorder.StartRun(ctx, c.Name)
	if err != nil {
		slog.Warn("failed to record run start", "error", err)
		return ""
	}
	return id
}

func (c *Cleanup) record(ctx context.Context, runID string, sum Summary) {
	if err := c.Recorder.FinishRun(ctx, runID, sum.Total, sum.Succeeded, sum.Failed, sum.Bytes); err != nil {
		slog.Warn("failed to record run finish", "error", err)
	}
}
