package stores

import (
	"context"
)

// LogAppender stores the log lines of a run. SQLiteStore implements it.
type LogAppender interface {
	AppendLog(ctx context.Context, runID, name string, lines []string) error
}

// LogPersister stores drained run logs in the history database.
// The run must be saved before its log is persisted.
type LogPersister struct {
	store LogAppender
	runID string
}

// NewLogPersister creates a persister attaching logs to runID.
func NewLogPersister(store LogAppender, runID string) *LogPersister {
	return &LogPersister{store: store, runID: runID}
}

// Persist stores lines under name.
func (p *LogPersister) Persist(ctx context.Context, name string, lines []string) error {
	return p.store.AppendLog(ctx, p.runID, name, lines)
}
