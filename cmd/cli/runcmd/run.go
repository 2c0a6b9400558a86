package runcmd

import (
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"stride-etl/internal/config"
	"stride-etl/internal/database"
	"stride-etl/internal/queue"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run service",
	Long:  "Run service from a selected list of services",
}

func init() {
	Command.AddCommand(schedulerCmd)
	Command.AddCommand(serverCmd)
}

func mustDatabase(conf *config.Config) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}

	return db
}

func mustQueue(conf *config.Config) queue.Client {
	reports, err := queue.NewFromConfig(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to redis")
	}
	return reports
}

func closeAll(db *sqlx.DB, reports queue.Client) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close db cleanly on shutdown")
	}

	if err := reports.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close redis cleanly on shutdown")
	}
}
