package reconcile

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Reason explains why the selector considers a date missing.
type Reason int

const (
	// NeverAttempted: the dataset was ingested and the task has no record for it.
	NeverAttempted Reason = iota
	// NotSucceeded: the task has a record that failed or never completed.
	NotSucceeded
)

func (r Reason) String() string {
	switch r {
	case NeverAttempted:
		return "never_attempted"
	case NotSucceeded:
		return "not_succeeded"
	default:
		return "unknown"
	}
}

// MissingDate is a date that still needs a run of the task, and why.
type MissingDate struct {
	Date   time.Time
	Reason Reason
}

// Outcome is the result of one attempt. Use Success or Failure to build one.
type Outcome struct {
	Success bool
	Error   string
}

// Success is the outcome of an attempt that completed without error.
func Success() Outcome {
	return Outcome{Success: true}
}

// Failure is the outcome of an attempt that failed with the given diagnostic text.
func Failure(text string) Outcome {
	return Outcome{Error: text}
}

// Validate enforces that an error text is present if and only if the attempt failed.
func (o Outcome) Validate() error {
	switch {
	case o.Success && o.Error != "":
		return errors.Mark(errors.New("successful outcome must not carry an error"), ErrInvariant)
	case !o.Success && o.Error == "":
		return errors.Mark(errors.New("failed outcome must carry an error"), ErrInvariant)
	}
	return nil
}

// RecordStore owns the task attempt records. Every method commits its own write before
// returning, so a crash between calls leaves a resumable state.
type RecordStore interface {
	// BeginAttempt creates or resets the record for (date, taskName) and returns its id.
	// Fails with ErrPrecondition when the date has no ingested dataset.
	BeginAttempt(ctx context.Context, date time.Time, taskName string) (int64, error)

	// CompleteAttempt stamps completion and the outcome on the attempt.
	CompleteAttempt(ctx context.Context, attemptID int64, outcome Outcome) error

	// MarkSettled records the date as done without running the task.
	MarkSettled(ctx context.Context, date time.Time, taskName string) error
}

// Selector finds the most recent date that still needs the task. It holds no cursor;
// each call reads the persisted state afresh.
type Selector interface {
	NextMissingDate(ctx context.Context, taskName string) (MissingDate, bool, error)
}

// TaskFunc processes a single date. It must be safe to run again on a date after an
// earlier failure.
type TaskFunc func(ctx context.Context, date time.Time, stats Stats) error
