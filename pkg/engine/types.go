package engine

import (
	"time"
)

// RunResult is the outcome of running one provider.
// A failed result always carries zero counts.
type RunResult struct {
	// Identity is the provider that was run.
	Identity Identity `json:"identity"`

	// Counts holds the created and changed artifact counts.
	Counts

	// Err is nil on success.
	Err error `json:"-"`

	// Duration is the wall-clock time spent in the run.
	Duration time.Duration `json:"duration"`
}

// OK reports whether the run succeeded.
func (r RunResult) OK() bool {
	return r.Err == nil
}

// ErrorMessage returns the error text, or an empty string on success.
func (r RunResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchResult is the ordered outcome of running a sequence of providers.
type BatchResult struct {
	// Results are in the order the providers were run.
	Results []RunResult `json:"results"`

	// TotalCreated is the sum of Created over Results.
	TotalCreated int `json:"total_created"`

	// TotalChanged is the sum of Changed over Results.
	TotalChanged int `json:"total_changed"`
}

// TotalAffected returns TotalCreated + TotalChanged.
func (b *BatchResult) TotalAffected() int {
	return b.TotalCreated + b.TotalChanged
}

// Failed returns the number of failed runs.
func (b *BatchResult) Failed() int {
	n := 0
	for i := range b.Results {
		if !b.Results[i].OK() {
			n++
		}
	}
	return n
}

// add appends a result and updates the totals.
func (b *BatchResult) add(r RunResult) {
	b.Results = append(b.Results, r)
	b.TotalCreated += r.Created
	b.TotalChanged += r.Changed
}
