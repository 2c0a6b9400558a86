package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// This file contains the models under the gtfs_* tables

// GtfsData is a model representing the `gtfs_data` table. One row per calendar date of
// ingested GTFS data, written by the ingestion pipeline.
type GtfsData struct {
	ID                int64     `db:"id"`
	Date              time.Time `db:"date"`
	ProcessingSuccess null.Bool `db:"processing_success"`
}

// GtfsDataTask is a model representing the `gtfs_data_task` table. It holds the latest
// attempt of a named task against one gtfs_data row.
type GtfsDataTask struct {
	ID          int64       `db:"id"`
	GtfsDataID  int64       `db:"gtfs_data_id"`
	TaskName    string      `db:"task_name"`
	StartedAt   null.Time   `db:"started_at"`
	CompletedAt null.Time   `db:"completed_at"`
	Success     null.Bool   `db:"success"`
	Error       null.String `db:"error"`
}

type AttemptStatus string

const (
	AsNotStarted AttemptStatus = "not_started"
	AsRunning    AttemptStatus = "running"
	AsSucceeded  AttemptStatus = "succeeded"
	AsFailed     AttemptStatus = "failed"
)

// Status derives the lifecycle state from the nullable columns. A record that started and
// never completed is reported as running, whether it is in flight or its process died.
func (t *GtfsDataTask) Status() AttemptStatus {
	switch {
	case t.Success.Valid && t.Success.Bool:
		return AsSucceeded
	case t.Success.Valid:
		return AsFailed
	case t.StartedAt.Valid:
		return AsRunning
	default:
		return AsNotStarted
	}
}

// TaskAttempt is a gtfs_data_task row joined with the date of its gtfs_data row.
type TaskAttempt struct {
	GtfsDataTask
	Date time.Time `db:"date"`
}

// GtfsRideStopLinks is the first and last gtfs_ride_stop of a gtfs_ride after the ride
// aggregations were refreshed. Both are null for rides without stops.
type GtfsRideStopLinks struct {
	GtfsRideID          int64    `db:"id"`
	FirstGtfsRideStopID null.Int `db:"first_gtfs_ride_stop_id"`
	LastGtfsRideStopID  null.Int `db:"last_gtfs_ride_stop_id"`
}
