// Package stores persists generation history in SQLite.
// It records every orchestrated run with its per-provider results and,
// when log persistence is enabled, the run's log lines.
package stores
