package task

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// RunOnSchedule invokes run at every firing of the cron expression until ctx
// is cancelled. Used when the task runs as its own scheduler instead of
// under system cron. Returns the schedule parse error, if any; cancellation
// is a clean shutdown, not an error.
func RunOnSchedule(ctx context.Context, expr string, run func(context.Context)) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	for {
		next := sched.Next(time.Now())
		slog.Info("waiting for next scheduled run", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler stopped")
			return nil
		case <-timer.C:
			run(ctx)
		}
	}
}
