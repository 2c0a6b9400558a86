package tasks

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/reconcile"
)

// CompleteRatio is the share of linked rows from which a date counts as done.
const CompleteRatio = 0.9

type coverage struct {
	Total  int64 `db:"total"`
	Linked int64 `db:"linked"`
}

// Missing is true for dates without any rows, so they are processed rather than settled.
func (c coverage) Missing() bool {
	if c.Total == 0 {
		return true
	}
	return float64(c.Linked)/float64(c.Total) < CompleteRatio
}

// completenessOracle builds an oracle from a read-only query taking the date as $1 and
// returning the total and linked row counts.
func completenessOracle(db *sqlx.DB, taskName, query string) reconcile.Oracle {
	return reconcile.OracleFunc(func(ctx context.Context, date time.Time) (bool, error) {
		var c coverage
		if err := db.GetContext(ctx, &c, query, date); err != nil {
			return false, errors.Wrapf(err, "could not check completeness of %s for %s", taskName, date.Format(reconcile.DateLayout))
		}

		missing := c.Missing()
		log.Debug().
			Str("task", taskName).
			Str("date", date.Format(reconcile.DateLayout)).
			Int64("total", c.Total).
			Int64("linked", c.Linked).
			Bool("missing", missing).
			Msg("Checked date completeness")
		return missing, nil
	})
}
