// Package store persists task attempts in the gtfs_data_task table and answers which
// gtfs_data dates still need a task.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/models"
	"stride-etl/internal/reconcile"
)

// Store implements reconcile.RecordStore and reconcile.Selector on Postgres.
type Store struct {
	db *sqlx.DB

	// Now stamps started_at and completed_at. Defaults to the current UTC time.
	Now func() time.Time
}

var (
	_ reconcile.RecordStore = (*Store)(nil)
	_ reconcile.Selector    = (*Store)(nil)
)

func New(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// BeginAttempt creates the attempt record for (date, taskName), or resets an existing
// one, stamping started_at. Calling it twice only restamps started_at.
func (s *Store) BeginAttempt(ctx context.Context, date time.Time, taskName string) (int64, error) {
	var attemptID int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		gtfsDataID, err := ingestedDatasetID(ctx, tx, date)
		if err != nil {
			return err
		}

		err = tx.GetContext(ctx, &attemptID, `
INSERT INTO gtfs_data_task (gtfs_data_id, task_name, started_at, completed_at, success, error)
VALUES ($1, $2, $3, NULL, NULL, NULL)
ON CONFLICT (gtfs_data_id, task_name) DO UPDATE
SET started_at = EXCLUDED.started_at,
	completed_at = NULL,
	success = NULL,
	error = NULL
RETURNING id
`, gtfsDataID, taskName, s.Now())
		if err != nil {
			return writeErr(err, "could not start attempt")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().
		Int64("attempt_id", attemptID).
		Str("task", taskName).
		Str("date", date.Format(reconcile.DateLayout)).
		Msg("Attempt started")
	return attemptID, nil
}

// CompleteAttempt stamps completed_at and the outcome on an attempt.
func (s *Store) CompleteAttempt(ctx context.Context, attemptID int64, outcome reconcile.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE gtfs_data_task
SET completed_at = $2,
	success = $3,
	error = $4
WHERE id = $1
`, attemptID, s.Now(), outcome.Success, null.NewString(outcome.Error, !outcome.Success))
		if err != nil {
			return writeErr(err, "could not complete attempt")
		}

		n, err := res.RowsAffected()
		if err != nil {
			return writeErr(err, "could not complete attempt")
		}
		if n == 0 {
			return errors.Mark(errors.Newf("attempt %d does not exist", attemptID), reconcile.ErrInvariant)
		}
		return nil
	})
}

// MarkSettled records a successful outcome for (date, taskName) without a run, creating
// the record if needed.
func (s *Store) MarkSettled(ctx context.Context, date time.Time, taskName string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		gtfsDataID, err := ingestedDatasetID(ctx, tx, date)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO gtfs_data_task (gtfs_data_id, task_name, started_at, completed_at, success, error)
VALUES ($1, $2, NULL, NULL, TRUE, NULL)
ON CONFLICT (gtfs_data_id, task_name) DO UPDATE
SET started_at = NULL,
	completed_at = NULL,
	success = TRUE,
	error = NULL
`, gtfsDataID, taskName)
		if err != nil {
			return writeErr(err, "could not mark date as settled")
		}
		return nil
	})
}

type missingDateRow struct {
	Date           time.Time `db:"date"`
	NeverAttempted bool      `db:"never_attempted"`
}

// NextMissingDate returns the most recent ingested date that has no record for the task,
// or whose record did not succeed.
func (s *Store) NextMissingDate(ctx context.Context, taskName string) (reconcile.MissingDate, bool, error) {
	var row missingDateRow
	err := s.db.GetContext(ctx, &row, `
SELECT a.date, a.never_attempted
FROM (
	SELECT d.date, TRUE AS never_attempted
	FROM gtfs_data d
	WHERE d.processing_success IS TRUE
	AND NOT EXISTS (
		SELECT 1 FROM gtfs_data_task t WHERE t.gtfs_data_id = d.id AND t.task_name = $1
	)
	UNION
	SELECT d.date, FALSE AS never_attempted
	FROM gtfs_data d
	JOIN gtfs_data_task t ON t.gtfs_data_id = d.id
	WHERE t.task_name = $1
	AND (t.success IS FALSE OR t.success IS NULL)
	AND d.processing_success IS TRUE
) a
ORDER BY a.date DESC
LIMIT 1
`, taskName)
	if errors.Is(err, sql.ErrNoRows) {
		return reconcile.MissingDate{}, false, nil
	}
	if err != nil {
		return reconcile.MissingDate{}, false, errors.Wrapf(err, "could not query missing dates for %s", taskName)
	}

	missing := reconcile.MissingDate{Date: reconcile.Day(row.Date), Reason: reconcile.NotSucceeded}
	if row.NeverAttempted {
		missing.Reason = reconcile.NeverAttempted
	}
	return missing, true, nil
}

// ListAttempts returns the latest attempts of a task, newest date first.
func (s *Store) ListAttempts(ctx context.Context, taskName string, limit int) ([]models.TaskAttempt, error) {
	attempts := []models.TaskAttempt{}
	err := s.db.SelectContext(ctx, &attempts, `
SELECT t.id, t.gtfs_data_id, t.task_name, t.started_at, t.completed_at, t.success, t.error, d.date
FROM gtfs_data_task t
JOIN gtfs_data d ON d.id = t.gtfs_data_id
WHERE t.task_name = $1
ORDER BY d.date DESC
LIMIT $2
`, taskName, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list attempts for %s", taskName)
	}
	return attempts, nil
}

// GetAttempt returns the attempt of a task for a date, or false if there is none.
func (s *Store) GetAttempt(ctx context.Context, date time.Time, taskName string) (*models.TaskAttempt, bool, error) {
	var attempt models.TaskAttempt
	err := s.db.GetContext(ctx, &attempt, `
SELECT t.id, t.gtfs_data_id, t.task_name, t.started_at, t.completed_at, t.success, t.error, d.date
FROM gtfs_data_task t
JOIN gtfs_data d ON d.id = t.gtfs_data_id
WHERE d.date = $1 AND t.task_name = $2
`, date, taskName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "could not get attempt for %s", taskName)
	}
	return &attempt, true, nil
}

// ingestedDatasetID looks up the gtfs_data row of a date that was ingested successfully.
func ingestedDatasetID(ctx context.Context, tx *sqlx.Tx, date time.Time) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `SELECT id FROM gtfs_data WHERE date = $1 AND processing_success IS TRUE`, date)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Mark(
			errors.Newf("date %s has no successfully ingested gtfs_data", date.Format(reconcile.DateLayout)),
			reconcile.ErrPrecondition,
		)
	}
	if err != nil {
		return 0, writeErr(err, "could not look up gtfs_data")
	}
	return id, nil
}

// withTx runs fn in its own transaction and commits it before returning.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return writeErr(err, "could not begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return writeErr(err, "could not commit transaction")
	}
	return nil
}

func writeErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), reconcile.ErrStoreWrite)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
