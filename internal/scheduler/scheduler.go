package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"stride-etl/internal/config"
	"stride-etl/internal/queue"
	"stride-etl/internal/reconcile"
	"stride-etl/internal/tasks"
)

// DriverFactory builds a fresh driver for every firing of a scheduled task.
type DriverFactory func(entry config.ScheduledTask) (*reconcile.Driver, error)

// TaskDrivers builds drivers for the registered tasks on top of records
func TaskDrivers(registry *tasks.Registry, records tasks.Records) DriverFactory {
	return func(entry config.ScheduledTask) (*reconcile.Driver, error) {
		task, ok := registry.Get(entry.Name)
		if !ok {
			return nil, errors.Newf("unknown task %q", entry.Name)
		}
		return task.Driver(records, entry.CheckMissingDates), nil
	}
}

type ScheduledCronJob struct {
	EntryID cron.EntryID
	Task    config.ScheduledTask
}

// TaskScheduler fires an idempotent run of every configured task on its cron expression.
// A firing that comes while the previous run of the same task is still going is skipped.
type TaskScheduler struct {
	cron             *cron.Cron
	drivers          DriverFactory
	reports          queue.Client
	scheduleIDMap    map[string]ScheduledCronJob // the key is the task name
	scheduleMapMutex sync.RWMutex

	isRunning  bool // checks if start has been called
	context    context.Context
	cancelFunc context.CancelFunc
}

// NewTaskScheduler creates a new scheduler service. timezone is the IANA zone the cron
// expressions are evaluated in; individual expressions may still override it with CRON_TZ=.
func NewTaskScheduler(timezone string, drivers DriverFactory, reports queue.Client) (*TaskScheduler, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, errors.Wrapf(err, "invalid scheduler timezone %q", timezone)
		}
	}
	if reports == nil {
		reports = queue.NopClient{}
	}

	logger := cronLogger{}
	// Create cron with seconds precision
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		cron.WithLogger(logger),
	)

	return &TaskScheduler{
		cron:          c,
		drivers:       drivers,
		reports:       reports,
		scheduleIDMap: make(map[string]ScheduledCronJob),
		context:       context.Background(),
	}, nil
}

// Start begins the scheduler service
func (s *TaskScheduler) Start(ctx context.Context) {
	if s.isRunning {
		return
	}

	s.isRunning = true
	s.context, s.cancelFunc = context.WithCancel(ctx)
	s.cron.Start()
	log.Info().Int("tasks", len(s.scheduleIDMap)).Msg("Scheduler started")
}

// Stop stops the scheduler service and waits for running tasks to return
func (s *TaskScheduler) Stop() {
	if !s.isRunning {
		return
	}

	s.cancelFunc()
	<-s.cron.Stop().Done()
	s.isRunning = false
	log.Info().Msg("Scheduler stopped")
}

// AddSchedule adds a task into the cron scheduler, replacing an earlier schedule of the
// same task
func (s *TaskScheduler) AddSchedule(entry config.ScheduledTask) error {
	// fail before registering if the task is unknown
	if _, err := s.drivers(entry); err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(entry.Cron, func() {
		if s.context.Err() != nil {
			return // Context cancelled
		}
		_ = s.RunTask(s.context, entry)
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("task", entry.Name).
			Str("cron", entry.Cron).
			Msg("Failed to schedule task")
		return errors.Wrapf(err, "invalid cron expression for %s", entry.Name)
	}

	s.RemoveSchedule(entry.Name)

	s.scheduleMapMutex.Lock()
	s.scheduleIDMap[entry.Name] = ScheduledCronJob{entryID, entry}
	s.scheduleMapMutex.Unlock()

	log.Info().
		Str("task", entry.Name).
		Str("cron", entry.Cron).
		Bool("check_missing_dates", entry.CheckMissingDates).
		Time("next", s.cron.Entry(entryID).Next).
		Msg("Task scheduled")
	return nil
}

// AddSchedules adds every configured task
func (s *TaskScheduler) AddSchedules(entries []config.ScheduledTask) error {
	for _, entry := range entries {
		if err := s.AddSchedule(entry); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSchedule removes a task from the cron scheduler
func (s *TaskScheduler) RemoveSchedule(taskName string) {
	s.scheduleMapMutex.Lock()
	defer s.scheduleMapMutex.Unlock()

	if sc, exists := s.scheduleIDMap[taskName]; exists {
		s.cron.Remove(sc.EntryID)
		delete(s.scheduleIDMap, taskName)
		log.Info().
			Str("task", taskName).
			Msg("Removed task schedule")
	}
}

// Schedules returns the scheduled tasks with their next firing time
func (s *TaskScheduler) Schedules() map[string]time.Time {
	s.scheduleMapMutex.RLock()
	defer s.scheduleMapMutex.RUnlock()

	next := make(map[string]time.Time, len(s.scheduleIDMap))
	for name, sc := range s.scheduleIDMap {
		next[name] = s.cron.Entry(sc.EntryID).Next
	}
	return next
}

// RunTask runs a task until it has no missing dates left and publishes the run report.
func (s *TaskScheduler) RunTask(ctx context.Context, entry config.ScheduledTask) error {
	driver, err := s.drivers(entry)
	if err != nil {
		log.Error().Err(err).Str("task", entry.Name).Msg("Could not create driver")
		return err
	}

	started := time.Now()
	stats := reconcile.Stats{}
	runErr := driver.Run(ctx, stats)
	if runErr != nil {
		log.Error().
			Err(runErr).
			Str("run_id", driver.RunID).
			Str("task", entry.Name).
			Msg("Scheduled run failed")
	}

	report := queue.NewRunReport(driver.RunID, entry.Name, queue.ModeIdempotent, started, stats, runErr)
	// publish even when the run was interrupted by shutdown
	if err := s.reports.Publish(context.WithoutCancel(ctx), report); err != nil {
		log.Error().Err(err).Str("run_id", driver.RunID).Msg("Could not publish run report")
	}
	return runErr
}

// cronLogger routes the cron library's logs to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
