package api

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v6"
	"stride-etl/internal/models"
	"stride-etl/internal/reconcile"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

type AttemptResponse struct {
	ID          int64                `json:"id"`
	Task        string               `json:"task"`
	Date        string               `json:"date"`
	Status      models.AttemptStatus `json:"status"`
	StartedAt   null.Time            `json:"started_at"`
	CompletedAt null.Time            `json:"completed_at"`
	Success     null.Bool            `json:"success"`
	Error       null.String          `json:"error"`
}

func newAttemptResponse(a models.TaskAttempt) AttemptResponse {
	return AttemptResponse{
		ID:          a.ID,
		Task:        a.TaskName,
		Date:        a.Date.Format(reconcile.DateLayout),
		Status:      a.Status(),
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		Success:     a.Success,
		Error:       a.Error,
	}
}

type MissingDateResponse struct {
	Task   string `json:"task"`
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type TaskResponse struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Short   string `json:"description"`
}

// parseLimit reads the limit query parameter, defaulting to defaultLimit
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Newf("limit %q is not a number", raw)
	}
	if limit < 1 || limit > maxLimit {
		return 0, errors.Newf("limit must be between 1 and %d", maxLimit)
	}
	return limit, nil
}
