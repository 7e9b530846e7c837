package selfupdate

import (
	"context"
	"log/slog"
	"time"
)

// RunManual executes one update cycle for the explicit -update flag path.
// The update's outcome is the process's entire outcome; the returned value
// is the process exit code.
func RunManual(ctx context.Context, u *Updater) int {
	res, err := u.Update(ctx)
	if err != nil {
		slog.Error("self-update failed", "error", err)
		return 1
	}
	if res == ResultUpdated {
		slog.Info("self-update installed a new build", "path", u.execPath)
	}
	return 0
}

// RunAutomatic executes the interval-gated automatic check. Failures are
// warnings only; the surrounding task must never be blocked by a broken
// release server. On a successful update the process re-execs with its
// original arguments and this function does not return.
func RunAutomatic(ctx context.Context, u *Updater, interval time.Duration) {
	if !u.Due(interval) {
		slog.Debug("automatic update not due", "interval", interval)
		return
	}
	res, err := u.Update(ctx)
	if err != nil {
		slog.Warn("automatic update failed, continuing with current build", "error", err)
		return
	}
	if res == ResultUpdated {
		slog.Info("restarting under new build")
		if err := Relaunch(u.execPath); err != nil {
			slog.Warn("relaunch failed, continuing with current build", "error", err)
		}
	}
}
