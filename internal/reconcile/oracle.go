package reconcile

import (
	"context"
	"time"
)

// Oracle decides whether a date whose previous attempt did not succeed still needs work.
// Implementations must be free of side effects and safe to call repeatedly.
type Oracle interface {
	IsDateMissing(ctx context.Context, date time.Time) (bool, error)
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(ctx context.Context, date time.Time) (bool, error)

func (f OracleFunc) IsDateMissing(ctx context.Context, date time.Time) (bool, error) {
	return f(ctx, date)
}

// AlwaysMissing is the default oracle. Every selected date is processed.
type AlwaysMissing struct{}

func (AlwaysMissing) IsDateMissing(context.Context, time.Time) (bool, error) {
	return true, nil
}
