package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stride-etl/internal/reconcile"
	"stride-etl/internal/worker"
)

func day(s string) time.Time {
	d, err := reconcile.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{"defaults to today", "", "", day("2024-03-10"), day("2024-03-10"), false},
		{"single date", "2024-01-05", "", day("2024-01-05"), day("2024-01-05"), false},
		{"range", "2024-01-05", "2024-01-07", day("2024-01-05"), day("2024-01-07"), false},
		{"same day range", "2024-01-05", "2024-01-05", day("2024-01-05"), day("2024-01-05"), false},
		{"to before from", "2024-01-05", "2024-01-04", time.Time{}, time.Time{}, true},
		{"bad date", "05/01/2024", "", time.Time{}, time.Time{}, true},
		{"bad date-to", "2024-01-05", "tomorrow", time.Time{}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := worker.DateRange(tt.from, tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestWorker_Run(t *testing.T) {
	t.Run("processes every date in order", func(t *testing.T) {
		var seen []string
		wkr := worker.NewWorker("test-task", func(_ context.Context, date time.Time, stats reconcile.Stats) error {
			seen = append(seen, date.Format(reconcile.DateLayout))
			stats.Inc("rows")
			return nil
		})
		var reported []string
		wkr.AfterDate = func(date time.Time, _ reconcile.Stats) {
			reported = append(reported, date.Format(reconcile.DateLayout))
		}

		stats := reconcile.Stats{}
		require.NoError(t, wkr.Run(context.Background(), day("2024-02-28"), day("2024-03-01"), stats))

		expected := []string{"2024-02-28", "2024-02-29", "2024-03-01"}
		assert.Equal(t, expected, seen)
		assert.Equal(t, expected, reported)
		assert.Equal(t, reconcile.Stats{reconcile.StatProcessedDates: 3, "rows": 3}, stats)
		assert.NotEmpty(t, wkr.ID)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		calls := 0
		wkr := worker.NewWorker("test-task", func(_ context.Context, date time.Time, _ reconcile.Stats) error {
			calls++
			if date.Equal(day("2024-01-02")) {
				return errors.New("boom")
			}
			return nil
		})

		stats := reconcile.Stats{}
		err := wkr.Run(context.Background(), day("2024-01-01"), day("2024-01-05"), stats)
		require.Error(t, err)
		assert.True(t, errors.Is(err, reconcile.ErrTaskFailure))
		assert.ErrorContains(t, err, "2024-01-02")
		assert.ErrorContains(t, err, "boom")
		assert.Equal(t, 2, calls)
		assert.Equal(t, 2, stats[reconcile.StatProcessedDates])
	})

	t.Run("recovers from a panic", func(t *testing.T) {
		wkr := worker.NewWorker("test-task", func(context.Context, time.Time, reconcile.Stats) error {
			panic("index out of range")
		})

		err := wkr.Run(context.Background(), day("2024-01-01"), day("2024-01-01"), reconcile.Stats{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, reconcile.ErrTaskFailure))
		assert.ErrorContains(t, err, "task panicked: index out of range")
	})

	t.Run("stop cancels the run", func(t *testing.T) {
		var wkr *worker.Worker
		calls := 0
		wkr = worker.NewWorker("test-task", func(ctx context.Context, _ time.Time, _ reconcile.Stats) error {
			calls++
			wkr.Stop()
			<-ctx.Done()
			return nil
		})

		err := wkr.Run(context.Background(), day("2024-01-01"), day("2024-01-10"), reconcile.Stats{})
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		wkr := worker.NewWorker("test-task", func(context.Context, time.Time, reconcile.Stats) error {
			t.Fatal("task must not run")
			return nil
		})
		err := wkr.Run(ctx, day("2024-01-01"), day("2024-01-02"), reconcile.Stats{})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
