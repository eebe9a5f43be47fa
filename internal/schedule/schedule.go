// Package schedule runs configured cron entries, submitting ETL jobs
// with a relative date window through the task manager.
package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/salasdw/peoplesync/internal/config"
	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

// Resolver maps a job name and window to a runnable job. *jobs.Env's
// JobByName satisfies it.
type Resolver func(name string, w sesame.Window) (orchestration.JobFunc, error)

type Runner struct {
	cron  *cron.Cron
	tasks *orchestration.Manager
	log   *slog.Logger
	now   func() time.Time
}

// New registers every schedule entry. Entries with an invalid cron
// expression or an unknown job name fail construction.
func New(entries []config.Schedule, resolve Resolver, tasks *orchestration.Manager, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		cron:  cron.New(),
		tasks: tasks,
		log:   log,
		now:   time.Now,
	}
	for _, entry := range entries {
		entry := entry
		// Surface a bad job name at startup, not on first fire.
		if _, err := resolve(entry.Job, sesame.Window{}); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", entry.Cron, err)
		}
		_, err := r.cron.AddFunc(entry.Cron, func() {
			r.fire(entry, resolve)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", entry.Cron, err)
		}
	}
	return r, nil
}

func (r *Runner) fire(entry config.Schedule, resolve Resolver) {
	w := windowEndingYesterday(r.now(), entry.WindowDays)
	fn, err := resolve(entry.Job, w)
	if err != nil {
		r.log.Error("scheduled job resolution failed", "job", entry.Job, "error", err)
		return
	}
	id := r.tasks.Submit("cron_"+entry.Job, fn)
	r.log.Info("scheduled job submitted",
		"job", entry.Job, "task_id", id,
		"from", w.From.Format("2006-01-02"), "to", w.To.Format("2006-01-02"))
}

func (r *Runner) Start() { r.cron.Start() }

// Stop stops firing new entries; already-submitted tasks keep running.
func (r *Runner) Stop() { r.cron.Stop() }

// windowEndingYesterday builds an inclusive window that ends yesterday
// and reaches windowDays back (a zero or one day count means just
// yesterday).
func windowEndingYesterday(now time.Time, windowDays int) sesame.Window {
	end := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	if windowDays < 1 {
		windowDays = 1
	}
	return sesame.Window{From: end.AddDate(0, 0, -(windowDays - 1)), To: end}
}
