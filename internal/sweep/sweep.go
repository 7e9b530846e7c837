// Package sweep deletes backup files older than a retention threshold.
package sweep

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Entry is one file selected for deletion.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Result summarizes a sweep.
type Result struct {
	Selected int
	Deleted  int
	Failed   int
	Bytes    int64 // total size of selected files
}

// Select walks root and returns the regular files whose modification time is
// strictly before cutoff. A file aged exactly at the threshold is kept.
func Select(root string, cutoff time.Time) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && info.ModTime().Before(cutoff) {
			entries = append(entries, Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Run selects files in root older than retention (relative to now) and
// deletes them unless dryRun is set. Per-file delete failures are counted
// and logged; the sweep continues through the remaining files.
func Run(root string, retention time.Duration, dryRun bool, now time.Time) (Result, error) {
	cutoff := now.Add(-retention)
	entries, err := Select(root, cutoff)
	if err != nil {
		return Result{}, err
	}

	res := Result{Selected: len(entries)}
	for _, e := range entries {
		res.Bytes += e.Size
		age := now.Sub(e.ModTime).Round(time.Second)
		if dryRun {
			slog.Info("would delete", "path", e.Path, "age", age, "size", e.Size)
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			res.Failed++
			slog.Warn("failed to delete", "path", e.Path, "error", err)
			continue
		}
		res.Deleted++
		slog.Info("deleted", "path", e.Path, "age", age, "size", e.Size)
	}
	return res, nil
}
