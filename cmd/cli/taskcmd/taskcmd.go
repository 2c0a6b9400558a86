package taskcmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"stride-etl/internal/config"
	"stride-etl/internal/database"
	"stride-etl/internal/queue"
	"stride-etl/internal/store"
	"stride-etl/internal/tasks"
)

var GtfsCommand = &cobra.Command{
	Use:   "gtfs",
	Short: "Handle processing of GTFS data",
}

var SiriCommand = &cobra.Command{
	Use:   "siri",
	Short: "Handle processing of SIRI data",
}

func init() {
	// the registry is only read for its command metadata here, tasks get their db on run
	registry := tasks.NewRegistry(nil)
	for group, cmd := range map[string]*cobra.Command{"gtfs": GtfsCommand, "siri": SiriCommand} {
		for _, task := range registry.Group(group) {
			cmd.AddCommand(newTaskCommand(task.Name, task.Command, task.Short))
		}
	}
}

func newTaskCommand(taskName, use, short string) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.FromCobraCmd(cmd)
			// the scheduler entry of the task provides the default
			if entry, ok := conf.Task(taskName); ok && !cmd.Flags().Changed("check-missing-dates") {
				opts.CheckMissingDates = entry.CheckMissingDates
			}

			db, err := database.New(conf)
			if err != nil {
				return errors.Wrap(err, "could not connect to database")
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Error().Err(err).Msg("Could not close db cleanly")
				}
			}()

			reports, err := queue.NewFromConfig(conf)
			if err != nil {
				return err
			}
			defer func() {
				if err := reports.Close(); err != nil {
					log.Error().Err(err).Msg("Could not close redis cleanly")
				}
			}()

			task, ok := tasks.NewRegistry(db).Get(taskName)
			if !ok {
				return errors.Newf("task %s is not registered", taskName)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, cmd.OutOrStdout(), task, store.New(db), reports, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Date, "date", "", "Date string (YYYY-MM-DD) specifying the date to process. Defaults to today if not provided.")
	flags.StringVar(&opts.DateTo, "date-to", "", "If provided, will process a date range from date to date-to")
	flags.BoolVar(&opts.Idempotent, "idempotent", false, "If set, will ensure all dates are processed.")
	flags.BoolVar(&opts.CheckMissingDates, "check-missing-dates", false, "If set, will verify missing dates before processing.")
	return cmd
}
