package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"stride-etl/cmd/cli/dbcmd"
	"stride-etl/cmd/cli/runcmd"
	"stride-etl/cmd/cli/taskcmd"
)

var RootCmd = &cobra.Command{
	Use:   "stridectl",
	Short: "Stride ETL - date partitioned enrichment of transit data",
	Long: `Stride ETL runs the enrichment tasks of the stride database over the dates of
ingested GTFS data.

Every task can run once over a date range, or idempotently: the latter processes each
ingested date that has no successful record for the task yet, newest first, and records
the outcome so that failed or interrupted dates are picked up by the next run.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(taskcmd.GtfsCommand)
	RootCmd.AddCommand(taskcmd.SiriCommand)
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(dbcmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
