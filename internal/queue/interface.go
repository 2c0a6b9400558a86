package queue

import (
	"context"
	"time"
)

// RunReport summarises one run of a task, idempotent or raw
type RunReport struct {
	RunID      string         `json:"run_id"`
	Task       string         `json:"task"`
	Mode       string         `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stats      map[string]int `json:"stats"`
	Error      string         `json:"error,omitempty"`
}

const (
	ModeIdempotent = "idempotent"
	ModeRaw        = "raw"
)

// NewRunReport builds the report of a run that started at startedAt and just finished
// with runErr
func NewRunReport(runID, task, mode string, startedAt time.Time, stats map[string]int, runErr error) RunReport {
	report := RunReport{
		RunID:      runID,
		Task:       task,
		Mode:       mode,
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
		Stats:      make(map[string]int, len(stats)),
	}
	for k, v := range stats {
		report.Stats[k] = v
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	return report
}

// Succeeded is true for runs that finished without error
func (r RunReport) Succeeded() bool {
	return r.Error == ""
}

// Client defines the interface for run report operations
type Client interface {
	Publish(ctx context.Context, report RunReport) error
	Latest(ctx context.Context, task string, n int64) ([]RunReport, error)
	Close() error
}

// NopClient drops reports. It is used when the queue is disabled
type NopClient struct{}

func (NopClient) Publish(context.Context, RunReport) error { return nil }

func (NopClient) Latest(context.Context, string, int64) ([]RunReport, error) {
	return []RunReport{}, nil
}

func (NopClient) Close() error { return nil }
