package reconcile

import "github.com/cockroachdb/errors"

// Error categories returned by the engine and its collaborators. Test with errors.Is.
var (
	// ErrPrecondition means the requested date has no successfully ingested source dataset.
	ErrPrecondition = errors.New("no successfully ingested source dataset")

	// ErrTaskFailure means the task function failed for a date. The failure has been
	// recorded against the attempt before being returned.
	ErrTaskFailure = errors.New("task failed")

	// ErrStoreWrite means a task attempt record could not be read or written.
	ErrStoreWrite = errors.New("task record store write failed")

	// ErrInvariant is a programmer error, such as completing an attempt with an outcome
	// that carries both success and an error text.
	ErrInvariant = errors.New("task record invariant violated")
)
