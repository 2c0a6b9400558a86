package tasks

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/models"
	"stride-etl/internal/reconcile"
)

const (
	StatTotalRides        = "total rides"
	StatRidesValidStops   = "rides with valid first/last stops"
	StatRidesSameStop     = "rides with same first/last stop"
	StatRidesWithoutStops = "rides without first/last stops"
)

// UpdateRideAggregations sets the first and last ride stop of every gtfs ride on the date,
// ordered by stop_sequence, with start_time taken from the first stop's departure and
// end_time from the last stop's arrival. Rides without stops are reset to nulls.
func UpdateRideAggregations(db *sqlx.DB) reconcile.TaskFunc {
	return func(ctx context.Context, date time.Time, stats reconcile.Stats) error {
		var rides []models.GtfsRideStopLinks
		err := db.SelectContext(ctx, &rides, `
WITH endpoints AS (
	SELECT r.id,
		(SELECT s.id FROM gtfs_ride_stop s WHERE s.gtfs_ride_id = r.id ORDER BY s.stop_sequence ASC LIMIT 1) AS first_id,
		(SELECT s.id FROM gtfs_ride_stop s WHERE s.gtfs_ride_id = r.id ORDER BY s.stop_sequence DESC LIMIT 1) AS last_id
	FROM gtfs_ride r
	JOIN gtfs_route rt ON rt.id = r.gtfs_route_id
	WHERE rt.date = $1
)
UPDATE gtfs_ride
SET first_gtfs_ride_stop_id = e.first_id,
	last_gtfs_ride_stop_id = e.last_id,
	start_time = (SELECT departure_time FROM gtfs_ride_stop WHERE id = e.first_id),
	end_time = (SELECT arrival_time FROM gtfs_ride_stop WHERE id = e.last_id)
FROM endpoints e
WHERE gtfs_ride.id = e.id
RETURNING gtfs_ride.id, gtfs_ride.first_gtfs_ride_stop_id, gtfs_ride.last_gtfs_ride_stop_id
`, date)
		if err != nil {
			return errors.Wrapf(err, "could not update ride aggregations for %s", date.Format(reconcile.DateLayout))
		}

		for _, ride := range rides {
			stats.Inc(StatTotalRides)
			switch {
			case !ride.FirstGtfsRideStopID.Valid:
				stats.Inc(StatRidesWithoutStops)
			case ride.FirstGtfsRideStopID.Int64 == ride.LastGtfsRideStopID.Int64:
				stats.Inc(StatRidesSameStop)
			default:
				stats.Inc(StatRidesValidStops)
			}
		}

		log.Info().
			Str("date", date.Format(reconcile.DateLayout)).
			Int("rides", len(rides)).
			Msg("Updated ride aggregations")
		return nil
	}
}

// RideAggregationsOracle reports a date as missing while less than CompleteRatio of its
// gtfs rides have a first stop.
func RideAggregationsOracle(db *sqlx.DB) reconcile.Oracle {
	return completenessOracle(db, RideAggregations, `
SELECT COUNT(*) AS total,
	COUNT(r.first_gtfs_ride_stop_id) AS linked
FROM gtfs_ride r
JOIN gtfs_route rt ON rt.id = r.gtfs_route_id
WHERE rt.date = $1
`)
}
