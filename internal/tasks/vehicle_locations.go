package tasks

import (
	"context"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/models"
	"stride-etl/internal/reconcile"
)

const (
	StatUpdatedVehicleLocations = "updated vehicle locations"
	StatNearestRideStops        = "ride stops with nearest vehicle location"
)

// mean earth radius, in meters
const earthRadius = 6371008.8

// distanceMeters is the great-circle distance between two lat/lon points.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi, dLambda := phi2-phi1, radians(lon2-lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

type nearestLocation struct {
	locationID int64
	distance   float64
}

// UpdateRideStopsVehicleLocations sets, for the siri ride stops of the rides scheduled on
// the date that have a gtfs stop, the distance of each of their vehicle locations from the
// gtfs stop, and the nearest of those vehicle locations. Ride stops that already have a
// nearest vehicle location are skipped.
func UpdateRideStopsVehicleLocations(db *sqlx.DB) reconcile.TaskFunc {
	return func(ctx context.Context, date time.Time, stats reconcile.Stats) error {
		var rows []models.RideStopVehicleLocation
		err := db.SelectContext(ctx, &rows, `
SELECT srd.id AS siri_ride_id,
	srs.id AS siri_ride_stop_id,
	svl.id AS siri_vehicle_location_id,
	svl.lat AS siri_vehicle_location_lat,
	svl.lon AS siri_vehicle_location_lon,
	gs.lat AS gtfs_stop_lat,
	gs.lon AS gtfs_stop_lon
FROM siri_ride srd
JOIN siri_ride_stop srs ON srs.siri_ride_id = srd.id
JOIN siri_vehicle_location svl ON svl.siri_ride_stop_id = srs.id
JOIN gtfs_stop gs ON gs.id = srs.gtfs_stop_id
WHERE srs.nearest_siri_vehicle_location_id IS NULL
AND svl.lat IS NOT NULL AND svl.lon IS NOT NULL
AND gs.lat IS NOT NULL AND gs.lon IS NOT NULL
AND srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
ORDER BY srd.id, svl.recorded_at_time, svl.id
`, date)
		if err != nil {
			return errors.Wrapf(err, "could not get vehicle locations of siri ride stops for %s", date.Format(reconcile.DateLayout))
		}

		distances := map[int64]int64{}
		nearest := map[int64]nearestLocation{}
		for _, row := range rows {
			d := distanceMeters(row.VehicleLat, row.VehicleLon, row.StopLat, row.StopLon)
			distances[row.VehicleLocationID] = int64(math.Round(d))

			// the earliest vehicle location wins ties
			if n, ok := nearest[row.SiriRideStopID]; !ok || d < n.distance {
				nearest[row.SiriRideStopID] = nearestLocation{locationID: row.VehicleLocationID, distance: d}
			}
		}

		if len(rows) > 0 {
			err = inTx(ctx, db, func(tx *sqlx.Tx) error {
				for _, id := range slices.Sorted(maps.Keys(distances)) {
					if _, err := tx.ExecContext(ctx, `
UPDATE siri_vehicle_location SET distance_from_siri_ride_stop_meters = $2 WHERE id = $1
`, id, distances[id]); err != nil {
						return errors.Wrapf(err, "could not update siri vehicle location %d", id)
					}
				}
				for _, id := range slices.Sorted(maps.Keys(nearest)) {
					if _, err := tx.ExecContext(ctx, `
UPDATE siri_ride_stop SET nearest_siri_vehicle_location_id = $2 WHERE id = $1
`, id, nearest[id].locationID); err != nil {
						return errors.Wrapf(err, "could not update siri ride stop %d", id)
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "could not update ride stops vehicle locations for %s", date.Format(reconcile.DateLayout))
			}
		}

		stats.Add(StatUpdatedVehicleLocations, len(distances))
		stats.Add(StatNearestRideStops, len(nearest))

		log.Info().
			Str("date", date.Format(reconcile.DateLayout)).
			Int("vehicle_locations", len(distances)).
			Int("ride_stops", len(nearest)).
			Msg("Updated siri ride stops vehicle locations")
		return nil
	}
}

// RideStopsVehicleLocationsOracle reports a date as missing while less than CompleteRatio
// of the siri ride stops with a gtfs stop and vehicle locations have their nearest vehicle
// location set.
func RideStopsVehicleLocationsOracle(db *sqlx.DB) reconcile.Oracle {
	return completenessOracle(db, SiriRideStopsVehicleLocations, `
SELECT COUNT(*) AS total,
	COUNT(srs.nearest_siri_vehicle_location_id) AS linked
FROM siri_ride_stop srs
JOIN siri_ride srd ON srd.id = srs.siri_ride_id
WHERE srs.gtfs_stop_id IS NOT NULL
AND EXISTS (SELECT 1 FROM siri_vehicle_location svl WHERE svl.siri_ride_stop_id = srs.id)
AND srd.scheduled_start_time >= $1::date
AND srd.scheduled_start_time < $1::date + INTERVAL '1 day'
`)
}
