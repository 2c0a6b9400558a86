// Package tasks holds the per-date enrichment tasks that run against the stride database,
// with the completeness checks used to skip dates that are already good enough.
package tasks

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/reconcile"
)

const (
	RideAggregations              = "gtfs-ride-aggregations"
	SiriRidesGtfs                 = "siri-rides-gtfs"
	SiriRideStops                 = "siri-ride-stops-gtfs"
	SiriRideDurations             = "siri-ride-durations"
	SiriRideStopsVehicleLocations = "siri-ride-stops-vehicle-locations"
)

// Task is a registered task. Name is the key of its gtfs_data_task records.
type Task struct {
	Name    string
	Group   string // cli command group, gtfs or siri
	Command string // cli subcommand
	Short   string

	Process reconcile.TaskFunc

	// Oracle is the completeness check used when missing dates are checked before
	// reprocessing.
	Oracle reconcile.Oracle
}

// Records is the task record store and missing-date selector, usually *store.Store.
type Records interface {
	reconcile.RecordStore
	reconcile.Selector
}

// Driver creates an idempotent driver for the task. With checkMissingDates the task's
// completeness oracle decides whether previously failed dates are reprocessed.
func (t Task) Driver(records Records, checkMissingDates bool) *reconcile.Driver {
	driver := reconcile.NewDriver(t.Name, t.Process, records, records)
	if checkMissingDates && t.Oracle != nil {
		driver.Oracle = t.Oracle
	}
	return driver
}

type Registry struct {
	tasks map[string]Task
}

// NewRegistry registers every task against db.
func NewRegistry(db *sqlx.DB) *Registry {
	r := &Registry{tasks: map[string]Task{}}

	r.Register(Task{
		Name:    RideAggregations,
		Group:   "gtfs",
		Command: "update-ride-aggregations",
		Short:   "Update first/last stop and start/end time of the gtfs rides of a date",
		Process: UpdateRideAggregations(db),
		Oracle:  RideAggregationsOracle(db),
	})
	r.Register(Task{
		Name:    SiriRidesGtfs,
		Group:   "siri",
		Command: "update-rides-gtfs",
		Short:   "Link the siri rides of a date to their gtfs ride",
		Process: UpdateSiriRidesGtfs(db),
		Oracle:  SiriRidesGtfsOracle(db),
	})
	r.Register(Task{
		Name:    SiriRideStops,
		Group:   "siri",
		Command: "update-ride-stops-gtfs",
		Short:   "Link the siri ride stops of a date to their gtfs stop",
		Process: UpdateSiriRideStopsGtfs(db),
		Oracle:  SiriRideStopsOracle(db),
	})
	r.Register(Task{
		Name:    SiriRideDurations,
		Group:   "siri",
		Command: "add-ride-durations",
		Short:   "Add the duration of the siri rides of a date based on their vehicle locations",
		Process: AddRideDurations(db, time.Now),
		Oracle:  RideDurationsOracle(db),
	})
	r.Register(Task{
		Name:    SiriRideStopsVehicleLocations,
		Group:   "siri",
		Command: "update-ride-stops-vehicle-locations",
		Short:   "Set the nearest vehicle location of the siri ride stops of a date",
		Process: UpdateRideStopsVehicleLocations(db),
		Oracle:  RideStopsVehicleLocationsOracle(db),
	})

	return r
}

// Register adds or replaces a task.
func (r *Registry) Register(task Task) {
	r.tasks[task.Name] = task
}

func (r *Registry) Get(name string) (Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

// All returns the registered tasks sorted by name.
func (r *Registry) All() []Task {
	all := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		all = append(all, task)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})
	return all
}

// Group returns the tasks of a cli command group sorted by name.
func (r *Registry) Group(group string) []Task {
	var tasks []Task
	for _, task := range r.All() {
		if task.Group == group {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// inTx runs fn in its own transaction and commits it before returning.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Could not rollback transaction")
		}
		return err
	}

	return errors.Wrap(tx.Commit(), "could not commit transaction")
}
