package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/architecpoint/plesk-scripts/internal/config"
	"github.com/architecpoint/plesk-scripts/internal/dump"
	"github.com/architecpoint/plesk-scripts/internal/history"
	"github.com/architecpoint/plesk-scripts/internal/lock"
	"github.com/architecpoint/plesk-scripts/internal/selfupdate"
	"github.com/architecpoint/plesk-scripts/internal/task"
)

const taskName = "plesk-backup"

var (
	version        = "1.4.0"
	updateFlag     = flag.Bool("update", false, "Run the self-update and exit")
	selfUpdateFlag = flag.Bool("self-update", false, "Alias of -update")
	scheduleExpr   = flag.String("schedule", "", "Cron expression; keep running and back up on schedule instead of once")
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
	logger.Info("Starting plesk-backup", "version", version)

	cfg, err := config.Load(taskName)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Self-update runs before the lock is taken so a re-exec starts the
	// whole sequence over under the new build.
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
		// The dump commands honour ctx cancellation; if one wedges
		// anyway, don't leave a half-dead process on the box.
		time.Sleep(10 * time.Second)
		logger.Error("Shutdown timed out, forcing exit")
		os.Exit(1)
	}()

	rec := openHistory(ctx, logger, cfg)
	provider := dump.NewProvider(nil, cfg.AdminPasswordRef)
	backup := task.NewBackup(taskName, cfg.BackupDir, provider, rec)

	if *scheduleExpr != "" {
		err := task.RunOnSchedule(ctx, *scheduleExpr, func(ctx context.Context) {
			if _, runErr := backup.Run(ctx); runErr != nil {
				logger.Error("Scheduled backup run failed", "error", runErr)
			}
		})
		if err != nil {
			logger.Error("Invalid schedule expression", "schedule", *scheduleExpr, "error", err)
			return 1
		}
		return 0
	}

	sum, err := backup.Run(ctx)
	if err != nil {
		logger.Error("Backup run failed", "error", err)
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

// openHistory opens the run-history store and logs the previous run for
// operator context. The store is optional: a broken history database must
// not stop backups.
func openHistory(ctx context.Context, logger *slog.Logger, cfg *config.Config) task.Recorder {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Warn("Cannot create data directory, run history disabled", "dir", cfg.DataDir, "error", err)
		return nil
	}
	store, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		logger.Warn("Cannot open history database, run history disabled", "error", err)
		return nil
	}

	if last, err := store.LastRun(ctx, taskName); err == nil {
		logger.Info("Previous run",
			"started", last.StartedAt,
			"total", last.Total,
			"success", last.Succeeded,
			"failed", last.Failed,
		)
	} else if !errors.Is(err, sql.ErrNoRows) {
		logger.Warn("Cannot read previous run", "error", err)
	}
	return store
}
