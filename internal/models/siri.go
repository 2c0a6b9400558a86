package models

import (
	"github.com/guregu/null/v6"
)

// This file contains the row types read from the siri_* tables

// SiriRideVehicleLocations is a siri_ride that has no duration yet, next to the earliest
// and latest of its vehicle locations. The First/Last columns are null when the ride has
// no vehicle locations.
type SiriRideVehicleLocations struct {
	SiriRideID                       int64     `db:"id"`
	FirstVehicleLocationID           null.Int  `db:"first_vehicle_location_id"`
	LastVehicleLocationID            null.Int  `db:"last_vehicle_location_id"`
	UpdatedFirstLastVehicleLocations null.Time `db:"updated_first_last_vehicle_locations"`
	FirstLocationID                  null.Int  `db:"first_location_id"`
	FirstLocationRecordedAt          null.Time `db:"first_location_recorded_at"`
	LastLocationID                   null.Int  `db:"last_location_id"`
	LastLocationRecordedAt           null.Time `db:"last_location_recorded_at"`
}

// RideStopVehicleLocation pairs a vehicle location with the gtfs stop of the siri ride stop
// it was recorded at.
type RideStopVehicleLocation struct {
	SiriRideID        int64   `db:"siri_ride_id"`
	SiriRideStopID    int64   `db:"siri_ride_stop_id"`
	VehicleLocationID int64   `db:"siri_vehicle_location_id"`
	VehicleLat        float64 `db:"siri_vehicle_location_lat"`
	VehicleLon        float64 `db:"siri_vehicle_location_lon"`
	StopLat           float64 `db:"gtfs_stop_lat"`
	StopLon           float64 `db:"gtfs_stop_lon"`
}
