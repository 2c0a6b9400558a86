package taskcmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"stride-etl/internal/queue"
	"stride-etl/internal/reconcile"
	"stride-etl/internal/tasks"
	"stride-etl/internal/worker"
)

// Options are the flags shared by every task command
type Options struct {
	Date              string
	DateTo            string
	Idempotent        bool
	CheckMissingDates bool
}

// Run runs task in the mode selected by opts, printing the stats as YAML after every
// processed date and once more at the end, followed by OK when the run succeeded.
func Run(ctx context.Context, out io.Writer, task tasks.Task, records tasks.Records, reports queue.Client, opts Options) error {
	if reports == nil {
		reports = queue.NopClient{}
	}

	printStats := func(_ time.Time, stats reconcile.Stats) {
		_, _ = fmt.Fprint(out, stats.YAML())
	}

	stats := reconcile.Stats{}
	started := time.Now()
	var runID, mode string
	var runErr error

	if opts.Idempotent {
		if opts.Date != "" || opts.DateTo != "" {
			log.Warn().Msg("--date and --date-to are ignored in idempotent mode")
		}

		driver := task.Driver(records, opts.CheckMissingDates)
		driver.AfterDate = printStats
		runID, mode = driver.RunID, queue.ModeIdempotent
		runErr = driver.Run(ctx, stats)
	} else {
		if opts.CheckMissingDates {
			log.Warn().Msg("--check-missing-dates only applies to idempotent runs")
		}

		start, end, err := worker.DateRange(opts.Date, opts.DateTo, time.Now().UTC())
		if err != nil {
			return err
		}

		wkr := worker.NewWorker(task.Name, task.Process)
		wkr.AfterDate = printStats
		runID, mode = wkr.ID, queue.ModeRaw
		runErr = wkr.Run(ctx, start, end, stats)
	}

	_, _ = fmt.Fprint(out, stats.YAML())

	report := queue.NewRunReport(runID, task.Name, mode, started, stats, runErr)
	if err := reports.Publish(context.WithoutCancel(ctx), report); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Could not publish run report")
	}

	if runErr != nil {
		return runErr
	}
	_, _ = fmt.Fprintln(out, "OK")
	return nil
}
