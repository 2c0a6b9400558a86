package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/reconcile"
)

// Worker runs a task over an explicit date range without consulting or writing the task
// records. Every date in the range is processed, whether it was done before or not.
type Worker struct {
	ID       string
	TaskName string

	task   reconcile.TaskFunc
	ctx    context.Context
	cancel context.CancelFunc

	// AfterDate, when set, is called with the running stats after every processed date.
	AfterDate func(date time.Time, stats reconcile.Stats)
}

func NewWorker(taskName string, task reconcile.TaskFunc) *Worker {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{ID: id, TaskName: taskName, task: task, ctx: ctx, cancel: cancel}
}

// DateRange resolves the --date and --date-to values of the raw mode. An empty from
// means today in UTC and an empty to means a single date.
func DateRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := reconcile.Day(now)
	if from != "" {
		d, err := reconcile.ParseDate(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = d
	}

	end := start
	if to != "" {
		d, err := reconcile.ParseDate(to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = d
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.Newf(
			"date-to %s is before date %s", end.Format(reconcile.DateLayout), start.Format(reconcile.DateLayout))
	}
	return start, end, nil
}

// Run is a blocking function. It runs the task once for every date from start to end
// inclusive, in ascending order, and stops at the first failure.
func (w *Worker) Run(ctx context.Context, start, end time.Time, stats reconcile.Stats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := log.With().Str("run_id", w.ID).Str("task", w.TaskName).Logger()
	logger.Info().
		Str("date", start.Format(reconcile.DateLayout)).
		Str("date_to", end.Format(reconcile.DateLayout)).
		Msg("Starting run")

	for date := reconcile.Day(start); !date.After(end); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "run interrupted")
		}

		stats.Inc(reconcile.StatProcessedDates)
		if err := reconcile.RunTask(ctx, w.task, date, stats); err != nil {
			logger.Error().Err(err).Str("date", date.Format(reconcile.DateLayout)).Msg("Task failed")
			return errors.Mark(
				errors.Wrapf(err, "task %s failed for %s", w.TaskName, date.Format(reconcile.DateLayout)),
				reconcile.ErrTaskFailure,
			)
		}

		if w.AfterDate != nil {
			w.AfterDate(date, stats)
		}
	}

	logger.Info().Interface("stats", map[string]int(stats)).Msg("Run completed")
	return nil
}

// Stop cancels a running Run.
func (w *Worker) Stop() {
	w.cancel()
}
