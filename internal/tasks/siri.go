package tasks

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/reconcile"
)

const (
	StatUpdatedRides     = "updated rides"
	StatUpdatedRideStops = "updated ride stops"
)

// UpdateSiriRidesGtfs links the siri rides scheduled on the date to the gtfs ride of the
// same line that starts at the same time.
func UpdateSiriRidesGtfs(db *sqlx.DB) reconcile.TaskFunc {
	return func(ctx context.Context, date time.Time, stats reconcile.Stats) error {
		res, err := db.ExecContext(ctx, `
UPDATE siri_ride AS srd
SET route_gtfs_ride_id = grd.id
FROM siri_route AS sr
JOIN gtfs_route AS gr ON sr.line_ref = gr.line_ref
JOIN gtfs_ride AS grd ON gr.id = grd.gtfs_route_id
WHERE srd.siri_route_id = sr.id
AND gr.date = $1::date
AND srd.scheduled_start_time = grd.start_time
AND srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
`, date)
		if err != nil {
			return errors.Wrapf(err, "could not link siri rides for %s", date.Format(reconcile.DateLayout))
		}

		n, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		stats.Add(StatUpdatedRides, int(n))

		log.Info().
			Str("date", date.Format(reconcile.DateLayout)).
			Int64("updated", n).
			Msg("Linked siri rides to gtfs rides")
		return nil
	}
}

// SiriRidesGtfsOracle reports a date as missing while less than CompleteRatio of the siri
// rides scheduled on it are linked to a gtfs ride.
func SiriRidesGtfsOracle(db *sqlx.DB) reconcile.Oracle {
	return completenessOracle(db, SiriRidesGtfs, `
SELECT COUNT(*) AS total,
	COUNT(srd.route_gtfs_ride_id) AS linked
FROM siri_ride srd
WHERE srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
`)
}

// UpdateSiriRideStopsGtfs links the stops of the siri rides scheduled on the date to the
// gtfs stop with the same code on that date. Only rides with updated_duration_minutes
// are touched, since only those have their full stop data.
func UpdateSiriRideStopsGtfs(db *sqlx.DB) reconcile.TaskFunc {
	return func(ctx context.Context, date time.Time, stats reconcile.Stats) error {
		res, err := db.ExecContext(ctx, `
UPDATE siri_ride_stop AS srs
SET gtfs_stop_id = gs.id
FROM siri_stop ss, siri_ride srd, gtfs_stop gs
WHERE srs.siri_stop_id = ss.id
AND srs.siri_ride_id = srd.id
AND srd.updated_duration_minutes IS NOT NULL
AND srs.gtfs_stop_id IS NULL
AND gs.code = ss.code
AND gs.date = $1::date
AND srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
`, date)
		if err != nil {
			return errors.Wrapf(err, "could not link siri ride stops for %s", date.Format(reconcile.DateLayout))
		}

		n, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		stats.Add(StatUpdatedRideStops, int(n))

		log.Info().
			Str("date", date.Format(reconcile.DateLayout)).
			Int64("updated", n).
			Msg("Linked siri ride stops to gtfs stops")
		return nil
	}
}

// SiriRideStopsOracle reports a date as missing while less than CompleteRatio of the stops
// of its fully updated siri rides are linked to a gtfs stop.
func SiriRideStopsOracle(db *sqlx.DB) reconcile.Oracle {
	return completenessOracle(db, SiriRideStops, `
SELECT COUNT(*) AS total,
	COUNT(srs.gtfs_stop_id) AS linked
FROM siri_ride_stop srs
JOIN siri_ride srd ON srd.id = srs.siri_ride_id
WHERE srd.updated_duration_minutes IS NOT NULL
AND srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
`)
}
