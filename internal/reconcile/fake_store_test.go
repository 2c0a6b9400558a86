package reconcile_test

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/mock"
	"stride-etl/internal/reconcile"
)

type recordKey struct {
	date time.Time
	task string
}

type record struct {
	id          int64
	startedAt   null.Time
	completedAt null.Time
	success     null.Bool
	error       null.String
}

// memStore is an in-memory RecordStore and Selector with the same predicate as the
// Postgres store.
type memStore struct {
	datasets map[time.Time]bool // date -> ingestion succeeded
	records  map[recordKey]*record
	byID     map[int64]recordKey
	nextID   int64

	beginCalls   int
	settleCalls  int
	completeErr  error
	selectorHook func(task string) (reconcile.MissingDate, bool, error)
}

func newMemStore() *memStore {
	return &memStore{
		datasets: map[time.Time]bool{},
		records:  map[recordKey]*record{},
		byID:     map[int64]recordKey{},
	}
}

func day(s string) time.Time {
	d, err := reconcile.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (m *memStore) ingest(dates ...string) {
	for _, d := range dates {
		m.datasets[day(d)] = true
	}
}

func (m *memStore) seed(date, task string, success null.Bool, errText string) {
	m.nextID++
	r := &record{id: m.nextID, success: success, startedAt: null.TimeFrom(time.Now())}
	if success.Valid {
		r.completedAt = null.TimeFrom(time.Now())
	}
	if errText != "" {
		r.error = null.StringFrom(errText)
	}
	k := recordKey{day(date), task}
	m.records[k] = r
	m.byID[r.id] = k
}

func (m *memStore) get(date, task string) *record {
	return m.records[recordKey{day(date), task}]
}

func (m *memStore) BeginAttempt(_ context.Context, date time.Time, task string) (int64, error) {
	m.beginCalls++
	if !m.datasets[date] {
		return 0, errors.Mark(errors.Newf("date %s", date.Format(reconcile.DateLayout)), reconcile.ErrPrecondition)
	}
	k := recordKey{date, task}
	r, ok := m.records[k]
	if !ok {
		m.nextID++
		r = &record{id: m.nextID}
		m.records[k] = r
		m.byID[r.id] = k
	}
	r.startedAt = null.TimeFrom(time.Now())
	r.completedAt = null.Time{}
	r.success = null.Bool{}
	r.error = null.String{}
	return r.id, nil
}

func (m *memStore) CompleteAttempt(_ context.Context, id int64, outcome reconcile.Outcome) error {
	if m.completeErr != nil {
		return errors.Mark(m.completeErr, reconcile.ErrStoreWrite)
	}
	if err := outcome.Validate(); err != nil {
		return err
	}
	k, ok := m.byID[id]
	if !ok {
		return errors.Mark(errors.Newf("unknown attempt %d", id), reconcile.ErrInvariant)
	}
	r := m.records[k]
	r.completedAt = null.TimeFrom(time.Now())
	r.success = null.BoolFrom(outcome.Success)
	if outcome.Success {
		r.error = null.String{}
	} else {
		r.error = null.StringFrom(outcome.Error)
	}
	return nil
}

func (m *memStore) MarkSettled(_ context.Context, date time.Time, task string) error {
	m.settleCalls++
	k := recordKey{date, task}
	r, ok := m.records[k]
	if !ok {
		m.nextID++
		r = &record{id: m.nextID}
		m.records[k] = r
		m.byID[r.id] = k
	}
	r.startedAt = null.Time{}
	r.completedAt = null.Time{}
	r.error = null.String{}
	r.success = null.BoolFrom(true)
	return nil
}

func (m *memStore) NextMissingDate(_ context.Context, task string) (reconcile.MissingDate, bool, error) {
	if m.selectorHook != nil {
		return m.selectorHook(task)
	}

	dates := make([]time.Time, 0, len(m.datasets))
	for d, ok := range m.datasets {
		if ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	for _, d := range dates {
		r, ok := m.records[recordKey{d, task}]
		switch {
		case !ok:
			return reconcile.MissingDate{Date: d, Reason: reconcile.NeverAttempted}, true, nil
		case !r.success.Valid || !r.success.Bool:
			return reconcile.MissingDate{Date: d, Reason: reconcile.NotSucceeded}, true, nil
		}
	}
	return reconcile.MissingDate{}, false, nil
}

type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) IsDateMissing(ctx context.Context, date time.Time) (bool, error) {
	args := m.Called(ctx, date)
	return args.Bool(0), args.Error(1)
}
