package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"stride-etl/internal/config"
	"stride-etl/internal/scheduler"
	"stride-etl/internal/store"
	"stride-etl/internal/tasks"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Starts the scheduler process",
	Long: `Starts the scheduler process. Every task listed under scheduler.tasks in the config
runs idempotently on its cron expression. A firing is skipped while the previous run of
the same task is still going.`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running scheduler process")
		conf := config.FromCobraCmd(cmd)
		if len(conf.Scheduler.Tasks) == 0 {
			log.Fatal().Msg("No tasks configured under scheduler.tasks")
		}

		db := mustDatabase(conf)
		reports := mustQueue(conf)

		registry := tasks.NewRegistry(db)
		sch, err := scheduler.NewTaskScheduler(
			conf.Scheduler.Timezone,
			scheduler.TaskDrivers(registry, store.New(db)),
			reports,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create scheduler")
		}
		if err := sch.AddSchedules(conf.Scheduler.Tasks); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule tasks")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer func() {
			cancel()
			sch.Stop()
			closeAll(db, reports)
		}()

		sch.Start(ctx)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		log.Info().Msgf("Received signal %v, shutting down...", <-sigCh)
	},
}
