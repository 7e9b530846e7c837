package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/architecpoint/plesk-scripts/internal/config"
	"github.com/architecpoint/plesk-scripts/internal/history"
	"github.com/architecpoint/plesk-scripts/internal/lock"
	"github.com/architecpoint/plesk-scripts/internal/selfupdate"
	"github.com/architecpoint/plesk-scripts/internal/task"
)

const taskName = "plesk-cleanup"

var (
	version        = "1.4.0"
	updateFlag     = flag.Bool("update", false, "Run the self-update and exit")
	selfUpdateFlag = flag.Bool("self-update", false, "Alias of -update")
	dryRun         = flag.Bool("dry-run", false, "Report files that would be deleted without deleting them")
	dryRunShort    = flag.Bool("n", false, "Alias of -dry-run")
	days           = flag.Int("days", 0, "Retention threshold in days (overrides DAYS)")
	sweepDir       = flag.String("dir", "", "Directory to sweep (defaults to the backup directory)")
	devMode        = flag.Bool("dev", false, "Enable development mode")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if *devMode {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	if *devMode {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	}
	slog.SetDefault(logger)
	logger.Info("Starting plesk-cleanup", "version", version)

	cfg, err := config.Load(taskName)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 1
	}
	if *days < 0 {
		logger.Error("Retention days must be positive", "days", *days)
		return 1
	}
	if *days > 0 {
		cfg.RetentionDays = *days
	}
	if *dryRunShort {
		*dryRun = true
	}
	if cfg.DryRun {
		*dryRun = true
	}
	dir := cfg.BackupDir
	if *sweepDir != "" {
		dir = *sweepDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updater, updaterErr := newUpdater(cfg)
	if *updateFlag || *selfUpdateFlag {
		if updaterErr != nil {
			logger.Error("Self-update unavailable", "error", updaterErr)
			return 1
		}
		return selfupdate.RunManual(ctx, updater)
	}
	if cfg.AutoUpdate {
		if updaterErr != nil {
			logger.Warn("Automatic update skipped", "error", updaterErr)
		} else {
			selfupdate.RunAutomatic(ctx, updater, cfg.UpdateInterval)
		}
	}

	handle, err := lock.NewManager(cfg.LockFile).Acquire()
	if err != nil {
		logger.Error("Failed to acquire instance lock", "path", cfg.LockFile, "error", err)
		return 1
	}
	defer handle.Release()
	go func() {
		<-ctx.Done()
		handle.Release()
		time.Sleep(10 * time.Second)
		logger.Error("Shutdown timed out, forcing exit")
		os.Exit(1)
	}()

	rec := openHistory(logger, cfg)
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	cleanup := task.NewCleanup(taskName, dir, retention, *dryRun, rec)

	sum, err := cleanup.Run(ctx)
	if err != nil {
		logger.Error("Cleanup run failed", "error", err)
		return 1
	}
	return sum.ExitCode()
}

func newUpdater(cfg *config.Config) (*selfupdate.Updater, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}
	state := selfupdate.NewCheckState(cfg.CheckMarker)
	return selfupdate.New(cfg.UpdateURL, cfg.UpdateBranch, execPath, state), nil
}

func openHistory(logger *slog.Logger, cfg *config.Config) task.Recorder {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Warn("Cannot create data directory, run history disabled", "dir", cfg.DataDir, "error", err)
		return nil
	}
	store, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		logger.Warn("Cannot open history database, run history disabled", "error", err)
		return nil
	}
	return store
}
