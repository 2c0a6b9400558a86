package tasks

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/models"
	"stride-etl/internal/reconcile"
)

const (
	StatRidesWithoutDuration      = "rides without duration"
	StatFirstLocationUpdated      = "first vehicle location updated"
	StatLastLocationUpdated       = "last vehicle location updated"
	StatFirstLastLocationsMissing = "first/last vehicle locations missing"
	StatDurationUpdated           = "duration minutes updated"
	StatDurationTooOld            = "too old, duration set to 0"
)

const (
	// DurationSettleWindow is how long after the last vehicle location of a ride its
	// duration is considered final.
	DurationSettleWindow = 6 * time.Hour
	// DurationGiveUpAfter is how long after its first/last vehicle locations were set a
	// ride that still has no duration gets a duration of 0.
	DurationGiveUpAfter = 48 * time.Hour
)

type rideDurationUpdate struct {
	rideID                 int64
	firstLocationID        null.Int
	lastLocationID         null.Int
	updatedFirstLast       null.Time
	durationMinutes        null.Int
	updatedDurationMinutes null.Time
}

// planRideDuration works out the new vehicle location and duration columns of a ride. It
// returns false when the ride is left as is.
func planRideDuration(ride models.SiriRideVehicleLocations, now time.Time, stats reconcile.Stats) (rideDurationUpdate, bool) {
	u := rideDurationUpdate{
		rideID:           ride.SiriRideID,
		firstLocationID:  ride.FirstVehicleLocationID,
		lastLocationID:   ride.LastVehicleLocationID,
		updatedFirstLast: ride.UpdatedFirstLastVehicleLocations,
	}

	locationsChanged := false
	if ride.FirstLocationID.Valid && ride.FirstLocationID != ride.FirstVehicleLocationID {
		u.firstLocationID = ride.FirstLocationID
		stats.Inc(StatFirstLocationUpdated)
		locationsChanged = true
	}
	if ride.LastLocationID.Valid && ride.LastLocationID != ride.LastVehicleLocationID {
		u.lastLocationID = ride.LastLocationID
		stats.Inc(StatLastLocationUpdated)
		locationsChanged = true
	}
	if !ride.UpdatedFirstLastVehicleLocations.Valid {
		stats.Inc(StatFirstLastLocationsMissing)
		locationsChanged = true
	}
	if locationsChanged {
		u.updatedFirstLast = null.TimeFrom(now)
	}

	first, last := ride.FirstLocationRecordedAt, ride.LastLocationRecordedAt
	switch {
	case first.Valid && last.Valid && first.Time.Before(last.Time) && last.Time.Before(now.Add(-DurationSettleWindow)):
		u.durationMinutes = null.IntFrom(int64(last.Time.Sub(first.Time).Round(time.Minute) / time.Minute))
		stats.Inc(StatDurationUpdated)
	case u.updatedFirstLast.Time.Before(now.Add(-DurationGiveUpAfter)):
		u.durationMinutes = null.IntFrom(0)
		stats.Inc(StatDurationTooOld)
	}
	if u.durationMinutes.Valid {
		u.updatedDurationMinutes = null.TimeFrom(now)
	}

	return u, locationsChanged || u.durationMinutes.Valid
}

// AddRideDurations sets the first and last vehicle location of the siri rides scheduled on
// the date that have no duration yet, and their duration in minutes once the last vehicle
// location is older than DurationSettleWindow. Rides whose vehicle locations were set more
// than DurationGiveUpAfter ago without a usable duration get 0.
func AddRideDurations(db *sqlx.DB, now func() time.Time) reconcile.TaskFunc {
	return func(ctx context.Context, date time.Time, stats reconcile.Stats) error {
		var rides []models.SiriRideVehicleLocations
		err := db.SelectContext(ctx, &rides, `
SELECT srd.id,
	srd.first_vehicle_location_id,
	srd.last_vehicle_location_id,
	srd.updated_first_last_vehicle_locations,
	l.first_location_id,
	l.first_location_recorded_at,
	l.last_location_id,
	l.last_location_recorded_at
FROM siri_ride srd
LEFT JOIN LATERAL (
	SELECT (array_agg(svl.id ORDER BY svl.recorded_at_time ASC NULLS LAST, svl.id))[1] AS first_location_id,
		(array_agg(svl.recorded_at_time ORDER BY svl.recorded_at_time ASC NULLS LAST, svl.id))[1] AS first_location_recorded_at,
		(array_agg(svl.id ORDER BY svl.recorded_at_time DESC NULLS FIRST, svl.id DESC))[1] AS last_location_id,
		(array_agg(svl.recorded_at_time ORDER BY svl.recorded_at_time DESC NULLS FIRST, svl.id DESC))[1] AS last_location_recorded_at
	FROM siri_ride_stop srs
	JOIN siri_vehicle_location svl ON svl.siri_ride_stop_id = srs.id
	WHERE srs.siri_ride_id = srd.id
) l ON true
WHERE srd.updated_duration_minutes IS NULL
AND srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
ORDER BY srd.id
`, date)
		if err != nil {
			return errors.Wrapf(err, "could not get siri rides without duration for %s", date.Format(reconcile.DateLayout))
		}

		ts := now().UTC()
		var updates []rideDurationUpdate
		for _, ride := range rides {
			stats.Inc(StatRidesWithoutDuration)
			if u, ok := planRideDuration(ride, ts, stats); ok {
				updates = append(updates, u)
			}
		}

		if len(updates) > 0 {
			err = inTx(ctx, db, func(tx *sqlx.Tx) error {
				for _, u := range updates {
					_, err := tx.ExecContext(ctx, `
UPDATE siri_ride
SET first_vehicle_location_id = $2,
	last_vehicle_location_id = $3,
	updated_first_last_vehicle_locations = $4,
	duration_minutes = COALESCE($5, duration_minutes),
	updated_duration_minutes = COALESCE($6, updated_duration_minutes)
WHERE id = $1
`, u.rideID, u.firstLocationID, u.lastLocationID, u.updatedFirstLast, u.durationMinutes, u.updatedDurationMinutes)
					if err != nil {
						return errors.Wrapf(err, "could not update siri ride %d", u.rideID)
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "could not add ride durations for %s", date.Format(reconcile.DateLayout))
			}
		}

		log.Info().
			Str("date", date.Format(reconcile.DateLayout)).
			Int("rides", len(rides)).
			Int("updated", len(updates)).
			Msg("Added siri ride durations")
		return nil
	}
}

// RideDurationsOracle reports a date as missing while less than CompleteRatio of the siri
// rides scheduled on it have a duration.
func RideDurationsOracle(db *sqlx.DB) reconcile.Oracle {
	return completenessOracle(db, SiriRideDurations, `
SELECT COUNT(*) AS total,
	COUNT(srd.updated_duration_minutes) AS linked
FROM siri_ride srd
WHERE srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
`)
}
