// Package reconcile drives a named, date-partitioned task until every ingested date has a
// successful attempt recorded.
//
// Each cycle asks the Selector for the most recent missing date, records the start of an
// attempt, runs the task function and records the outcome. A failing task is recorded and
// ends the run; the failed date is the first candidate on the next run. A process that dies
// mid-attempt leaves the record started but not completed, which the Selector also treats as
// missing. Runs are strictly sequential and assume a single writer per task name.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Driver struct {
	RunID    string
	TaskName string

	task     TaskFunc
	store    RecordStore
	selector Selector

	// Oracle is consulted before retrying a date whose previous attempt did not
	// succeed. Defaults to AlwaysMissing.
	Oracle Oracle

	// AfterDate, when set, is called with the running stats after every processed date.
	AfterDate func(date time.Time, stats Stats)
}

// NewDriver creates a driver for taskName. The store and selector are usually the same
// Postgres-backed value.
func NewDriver(taskName string, task TaskFunc, store RecordStore, selector Selector) *Driver {
	return &Driver{
		RunID:    uuid.New().String(),
		TaskName: taskName,
		task:     task,
		store:    store,
		selector: selector,
		Oracle:   AlwaysMissing{},
	}
}

// Run processes missing dates one at a time until none remain. stats is updated in place
// so the caller can report partial counts when Run returns an error.
func (d *Driver) Run(ctx context.Context, stats Stats) error {
	oracle := d.Oracle
	if oracle == nil {
		oracle = AlwaysMissing{}
	}

	logger := log.With().Str("run_id", d.RunID).Str("task", d.TaskName).Logger()
	logger.Info().Msg("Starting idempotent run")

	var last *MissingDate
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "run interrupted")
		}

		missing, ok, err := d.selector.NextMissingDate(ctx, d.TaskName)
		if err != nil {
			return errors.Wrapf(err, "could not select next missing date for %s", d.TaskName)
		}
		if !ok {
			logger.Info().Interface("stats", map[string]int(stats)).Msg("No missing dates left")
			return nil
		}

		// A date that was just settled must never come back within the same run.
		if last != nil && last.Date.Equal(missing.Date) {
			return errors.Mark(
				errors.Newf("date %s selected again right after it was settled", missing.Date.Format(DateLayout)),
				ErrInvariant,
			)
		}

		if missing.Reason == NotSucceeded {
			stillMissing, err := oracle.IsDateMissing(ctx, missing.Date)
			if err != nil {
				return errors.Wrapf(err, "completeness check failed for %s", missing.Date.Format(DateLayout))
			}
			if !stillMissing {
				if err := d.store.MarkSettled(ctx, missing.Date, d.TaskName); err != nil {
					return err
				}
				stats.Inc(StatSettledDates)
				logger.Warn().
					Str("date", missing.Date.Format(DateLayout)).
					Msg("Date is complete enough, marked as settled without processing")
				last = &missing
				continue
			}
		}

		if err := d.processDate(ctx, missing.Date, stats); err != nil {
			return err
		}
		last = &missing

		if d.AfterDate != nil {
			d.AfterDate(missing.Date, stats)
		}
	}
}

// processDate runs the task for one date under a recorded attempt.
func (d *Driver) processDate(ctx context.Context, date time.Time, stats Stats) error {
	stats.Inc(StatProcessedDates)
	dateStr := date.Format(DateLayout)

	attemptID, err := d.store.BeginAttempt(ctx, date, d.TaskName)
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", d.RunID).
		Str("task", d.TaskName).
		Str("date", dateStr).
		Int64("attempt_id", attemptID).
		Msg("Processing date")

	start := time.Now()
	if taskErr := RunTask(ctx, d.task, date, stats); taskErr != nil {
		log.Error().
			Err(taskErr).
			Str("run_id", d.RunID).
			Str("task", d.TaskName).
			Str("date", dateStr).
			Int64("attempt_id", attemptID).
			Msg("Task failed")

		failure := errors.Mark(errors.Wrapf(taskErr, "task %s failed for %s", d.TaskName, dateStr), ErrTaskFailure)
		if err := d.store.CompleteAttempt(ctx, attemptID, Failure(fmt.Sprintf("%+v", taskErr))); err != nil {
			return errors.WithSecondaryError(err, failure)
		}
		return failure
	}

	if err := d.store.CompleteAttempt(ctx, attemptID, Success()); err != nil {
		return err
	}

	log.Info().
		Str("run_id", d.RunID).
		Str("task", d.TaskName).
		Str("date", dateStr).
		Dur("elapsed", time.Since(start)).
		Msg("Date processed")
	return nil
}

// RunTask calls task for date, converting a panic into an ordinary error.
func RunTask(ctx context.Context, task TaskFunc, date time.Time, stats Stats) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			err = errors.Newf("task panicked: %v", rcv)
		}
	}()

	return task(ctx, date, stats)
}
