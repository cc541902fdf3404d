package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore stores run history in SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// An in-memory database exists per connection
	if cfg.MaxOpenConns == 0 {
		if cfg.Path == ":memory:" {
			cfg.MaxOpenConns = 1
		} else {
			cfg.MaxOpenConns = 4
		}
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime == 0 && cfg.Path != ":memory:" {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Connection-level PRAGMAs are applied to every pooled connection
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// SaveRun stores a run and its provider results in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, operation, status, started_at, completed_at, providers, total_created, total_changed, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Operation,
		run.Status,
		run.StartedAt.UnixMilli(),
		run.CompletedAt.UnixMilli(),
		run.Providers,
		run.TotalCreated,
		run.TotalChanged,
		run.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for i, r := range run.Results {
		var errMsg *string
		if r.Error != "" {
			msg := r.Error
			errMsg = &msg
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO provider_results (run_id, seq, identity, created, changed, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, r.Identity, r.Created, r.Changed, errMsg, r.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to create provider result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its provider results by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, operation, status, started_at, completed_at, providers, total_created, total_changed, failed
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, created, changed, error, duration_ms
		FROM provider_results
		WHERE run_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r ProviderResult
		var errMsg sql.NullString
		var durationMs int64
		if err := rows.Scan(&r.Identity, &r.Created, &r.Changed, &errMsg, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan provider result: %w", err)
		}
		r.Error = errMsg.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider results: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, most recent first, without their provider results.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, operation, status, started_at, completed_at, providers, total_created, total_changed, failed
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run together with its results and log lines.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// AppendLog stores the log named name for a run, replacing any earlier copy.
func (s *SQLiteStore) AppendLog(ctx context.Context, runID, name string, lines []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM log_lines WHERE run_id = ? AND name = ?`, runID, name); err != nil {
		return fmt.Errorf("failed to clear log: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_lines (run_id, name, seq, line) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}
	defer stmt.Close()

	for i, line := range lines {
		if _, err := stmt.ExecContext(ctx, runID, name, i, line); err != nil {
			return fmt.Errorf("failed to append log line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log: %w", err)
	}
	return nil
}

// GetLog returns the stored log lines of a run, in order.
func (s *SQLiteStore) GetLog(ctx context.Context, runID, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line FROM log_lines
		WHERE run_id = ? AND name = ?
		ORDER BY seq
	`, runID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log lines: %w", err)
	}
	return lines, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var startedAt, completedAt int64
	err := row.Scan(
		&run.ID,
		&run.Operation,
		&run.Status,
		&startedAt,
		&completedAt,
		&run.Providers,
		&run.TotalCreated,
		&run.TotalChanged,
		&run.Failed,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.CompletedAt = time.UnixMilli(completedAt).UTC()
	return run, nil
}
