package dbcmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"stride-etl/internal/config"
	"stride-etl/internal/database"
)

var Command = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Creates the task and enrichment tables if they do not exist",
	Long: `Creates the gtfs_data_task table and the gtfs/siri tables the tasks read and write.
Meant for development and test databases, it never alters existing tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.FromCobraCmd(cmd)

		db, err := database.New(conf)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close db cleanly")
			}
		}()

		return database.Migrate(cmd.Context(), db)
	},
}

func init() {
	Command.AddCommand(migrateCmd)
}
