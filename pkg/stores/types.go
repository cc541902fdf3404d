package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Operation identifies the orchestrated operation a run belongs to.
type Operation string

const (
	OperationRunAll    Operation = "run_all"
	OperationRunSingle Operation = "run_single"
)

// RunStatus summarises the outcome of a run.
type RunStatus string

const (
	// RunStatusSucceeded means every provider succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial means some, but not all, providers failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed means every provider failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusEmpty means there were no providers to run.
	RunStatusEmpty RunStatus = "empty"
)

// StatusFor derives the run status from a provider count and a failure count.
func StatusFor(providers, failed int) RunStatus {
	switch {
	case providers == 0:
		return RunStatusEmpty
	case failed == 0:
		return RunStatusSucceeded
	case failed == providers:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// Run represents one orchestrated operation.
type Run struct {
	ID           string           `json:"id"`
	Operation    Operation        `json:"operation"`
	Status       RunStatus        `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	Providers    int              `json:"providers"`
	TotalCreated int              `json:"total_created"`
	TotalChanged int              `json:"total_changed"`
	Failed       int              `json:"failed"`
	Results      []ProviderResult `json:"results,omitempty"`
}

// Duration returns the wall-clock duration of the run.
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ProviderResult is the stored outcome of one provider within a run.
type ProviderResult struct {
	Identity string        `json:"identity"`
	Created  int           `json:"created"`
	Changed  int           `json:"changed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
