package database

import (
	"context"
	_ "embed"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/config"
)

//go:embed schema.sql
var schema string

func New(conf *config.Config) (*sqlx.DB, error) {
	return sqlx.Connect("pgx", conf.GetDatabaseURL())
}

// Migrate creates the tables used by the reconciliation engine and the enrichment tasks
// if they do not exist yet. Production databases are managed by the stride-db project;
// this is for development and integration tests.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "could not apply schema")
	}
	log.Info().Msg("Schema applied")
	return nil
}
