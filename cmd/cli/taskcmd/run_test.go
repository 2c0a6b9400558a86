package taskcmd_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"stride-etl/cmd/cli/taskcmd"
	"stride-etl/internal/queue"
	"stride-etl/internal/reconcile"
	"stride-etl/internal/tasks"
)

type MockReports struct {
	mock.Mock
}

func (m *MockReports) Publish(ctx context.Context, report queue.RunReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockReports) Latest(ctx context.Context, task string, n int64) ([]queue.RunReport, error) {
	args := m.Called(ctx, task, n)
	return args.Get(0).([]queue.RunReport), args.Error(1)
}

func (m *MockReports) Close() error {
	return m.Called().Error(0)
}

// records hands out the pending dates newest first and marks them done on completion
type records struct {
	pending []time.Time
	byID    map[int64]time.Time
	failed  map[time.Time]bool
}

func newRecords(dates ...string) *records {
	r := &records{byID: map[int64]time.Time{}, failed: map[time.Time]bool{}}
	for _, d := range dates {
		date, _ := reconcile.ParseDate(d)
		r.pending = append(r.pending, date)
	}
	return r
}

func (r *records) BeginAttempt(_ context.Context, date time.Time, _ string) (int64, error) {
	id := int64(len(r.byID) + 1)
	r.byID[id] = date
	return id, nil
}

func (r *records) CompleteAttempt(_ context.Context, id int64, outcome reconcile.Outcome) error {
	if !outcome.Success {
		r.failed[r.byID[id]] = true
		return nil
	}
	r.settle(r.byID[id])
	return nil
}

func (r *records) MarkSettled(_ context.Context, date time.Time, _ string) error {
	r.settle(date)
	return nil
}

func (r *records) settle(date time.Time) {
	for i, d := range r.pending {
		if d.Equal(date) {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func (r *records) NextMissingDate(context.Context, string) (reconcile.MissingDate, bool, error) {
	if len(r.pending) == 0 {
		return reconcile.MissingDate{}, false, nil
	}
	reason := reconcile.NeverAttempted
	if r.failed[r.pending[0]] {
		reason = reconcile.NotSucceeded
	}
	return reconcile.MissingDate{Date: r.pending[0], Reason: reason}, true, nil
}

func countingTask(seen *[]string) tasks.Task {
	return tasks.Task{
		Name: "test-task",
		Process: func(_ context.Context, date time.Time, stats reconcile.Stats) error {
			*seen = append(*seen, date.Format(reconcile.DateLayout))
			stats.Inc("rows")
			return nil
		},
	}
}

func TestRun_Idempotent(t *testing.T) {
	var seen []string
	reports := &MockReports{}
	reports.On("Publish", mock.Anything, mock.MatchedBy(func(r queue.RunReport) bool {
		return r.Mode == queue.ModeIdempotent && r.Task == "test-task" && r.Succeeded()
	})).Return(nil).Once()

	var out bytes.Buffer
	err := taskcmd.Run(context.Background(), &out, countingTask(&seen), newRecords("2024-01-02", "2024-01-01"), reports,
		taskcmd.Options{Idempotent: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-01"}, seen)
	assert.Equal(t, ""+
		"process dates: 1\nrows: 1\n"+
		"process dates: 2\nrows: 2\n"+
		"process dates: 2\nrows: 2\n"+
		"OK\n", out.String())
	reports.AssertExpectations(t)
}

func TestRun_IdempotentNothingMissing(t *testing.T) {
	var seen []string
	var out bytes.Buffer
	err := taskcmd.Run(context.Background(), &out, countingTask(&seen), newRecords(), nil, taskcmd.Options{Idempotent: true})
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.Equal(t, "{}\nOK\n", out.String())
}

func TestRun_CheckMissingDates(t *testing.T) {
	var seen []string
	task := countingTask(&seen)
	task.Oracle = reconcile.OracleFunc(func(context.Context, time.Time) (bool, error) {
		return false, nil
	})

	recs := newRecords("2024-01-02", "2024-01-01")
	recs.failed[recs.pending[0]] = true

	var out bytes.Buffer
	err := taskcmd.Run(context.Background(), &out, task, recs, nil, taskcmd.Options{Idempotent: true, CheckMissingDates: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-01"}, seen, "the failed but complete date is settled")
	assert.Contains(t, out.String(), "settled dates: 1\n")
}

func TestRun_Failure(t *testing.T) {
	task := tasks.Task{
		Name: "test-task",
		Process: func(context.Context, time.Time, reconcile.Stats) error {
			return errors.New("boom")
		},
	}
	reports := &MockReports{}
	reports.On("Publish", mock.Anything, mock.MatchedBy(func(r queue.RunReport) bool {
		return !r.Succeeded()
	})).Return(nil).Once()

	var out bytes.Buffer
	err := taskcmd.Run(context.Background(), &out, task, newRecords("2024-01-02"), reports, taskcmd.Options{Idempotent: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrTaskFailure))
	assert.Equal(t, "process dates: 1\n", out.String(), "final stats are printed without OK")
	reports.AssertExpectations(t)
}

func TestRun_Raw(t *testing.T) {
	var seen []string
	reports := &MockReports{}
	reports.On("Publish", mock.Anything, mock.MatchedBy(func(r queue.RunReport) bool {
		return r.Mode == queue.ModeRaw && r.Stats[reconcile.StatProcessedDates] == 3
	})).Return(nil).Once()

	var out bytes.Buffer
	// records are not used in raw mode
	err := taskcmd.Run(context.Background(), &out, countingTask(&seen), nil, reports,
		taskcmd.Options{Date: "2024-01-30", DateTo: "2024-02-01"})
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-30", "2024-01-31", "2024-02-01"}, seen)
	assert.Contains(t, out.String(), "OK\n")
	reports.AssertExpectations(t)
}

func TestRun_RawBadRange(t *testing.T) {
	var seen []string
	var out bytes.Buffer
	err := taskcmd.Run(context.Background(), &out, countingTask(&seen), nil, nil,
		taskcmd.Options{Date: "2024-02-01", DateTo: "2024-01-30"})
	assert.ErrorContains(t, err, "before date")
	assert.Empty(t, seen)
	assert.Empty(t, out.String())
}

func TestCommands(t *testing.T) {
	tests := []struct {
		group *cobra.Command
		use   string
	}{
		{taskcmd.GtfsCommand, "update-ride-aggregations"},
		{taskcmd.SiriCommand, "update-rides-gtfs"},
		{taskcmd.SiriCommand, "update-ride-stops-gtfs"},
		{taskcmd.SiriCommand, "add-ride-durations"},
		{taskcmd.SiriCommand, "update-ride-stops-vehicle-locations"},
	}

	for _, tt := range tests {
		cmd, _, err := tt.group.Find([]string{tt.use})
		require.NoError(t, err, tt.use)
		assert.Equal(t, tt.use, cmd.Name())
		for _, flag := range []string{"date", "date-to", "idempotent", "check-missing-dates"} {
			assert.NotNil(t, cmd.Flags().Lookup(flag), "%s --%s", tt.use, flag)
		}
	}
}

func TestCommandsMatchRegistry(t *testing.T) {
	registry := tasks.NewRegistry(nil)
	groups := map[string]*cobra.Command{"gtfs": taskcmd.GtfsCommand, "siri": taskcmd.SiriCommand}

	total := 0
	for group, parent := range groups {
		total += len(parent.Commands())
		for _, task := range registry.Group(group) {
			cmd, _, err := parent.Find([]string{task.Command})
			require.NoError(t, err, task.Name)
			assert.Equal(t, task.Command, cmd.Name())
			assert.Equal(t, task.Short, cmd.Short)
		}
	}
	assert.Equal(t, len(registry.All()), total, "every registered task has exactly one command")
}
