package runcmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"stride-etl/internal/api"
	"stride-etl/internal/config"
	"stride-etl/internal/store"
	"stride-etl/internal/tasks"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the status API server",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running API server")
		conf := config.FromCobraCmd(cmd)

		db := mustDatabase(conf)
		reports := mustQueue(conf)
		defer closeAll(db, reports)

		srv := api.New(store.New(db), reports, tasks.NewRegistry(db))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
		log.Info().Msg("API server stopped")
	},
}
