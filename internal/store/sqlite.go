package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements TaskStore using modernc.org/sqlite (pure Go, no
// CGO) with schema migrations applied via golang-migrate/migrate/v4.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies pragmas
// matching the teacher's single-writer-connection discipline, runs pending
// migrations, and returns a ready store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("Open", fmt.Errorf("open %s: %w", path, err))
	}

	// SQLite serialises writes; one connection avoids SQLITE_BUSY under the
	// single-writer-per-task-actor discipline this store sits behind.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, unavailable("Open", fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, unavailable("Open", fmt.Errorf("migrate: %w", err))
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations applies every pending up-migration. modernc.org/sqlite does
// not register itself under the driver name golang-migrate's own sqlite3
// source dials ("sqlite3", which expects mattn/go-sqlite3's cgo driver), so
// the already-open *sql.DB is handed to sqlite3.WithInstance instead of
// letting migrate.New dial its own connection by URL.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlite3.WithInstance: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate.NewWithInstance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close implements TaskStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ TaskStore = (*SQLiteStore)(nil)

// CreateTask implements TaskStore.
func (s *SQLiteStore) CreateTask(ctx context.Context, record *task.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, client_id, flow_id, stored_filename, status, created_at,
			input_timeout_seconds, max_duration_seconds, status_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.ClientID, record.FlowID, record.StoredFilename,
		string(record.Status), formatTime(record.CreatedAt),
		record.InputTimeoutSeconds, record.MaxDurationSeconds, record.StatusVersion,
	)
	if err != nil {
		return conflict("CreateTask", err)
	}
	return nil
}

// Journal implements task.Persister: it CASes on the prior status and bumps
// status_version, matching the optimistic-concurrency requirement of §5.
func (s *SQLiteStore) Journal(record *task.Record, from task.Status) error {
	results, err := marshalResults(record.Results)
	if err != nil {
		return runnererrors.New("store", "Journal", err).WithKind(runnererrors.KindValidationFailed)
	}

	res, err := s.db.ExecContext(context.Background(), `
		UPDATE tasks SET
			status = ?, started_at = ?, ended_at = ?, input_request_id = ?,
			results = ?, reason = ?, diagnostic = ?, status_version = ?
		WHERE id = ? AND status = ? AND status_version = ?
	`,
		string(record.Status), formatTimePtr(record.StartedAt), formatTimePtr(record.EndedAt),
		stringPtrOrNil(record.InputRequestID), results, string(record.Reason), record.Diagnostic,
		record.StatusVersion,
		record.ID, string(from), record.StatusVersion-1,
	)
	if err != nil {
		return unavailable("Journal", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("Journal", err)
	}
	if affected == 0 {
		return conflict("Journal", fmt.Errorf("task %s: status_version/from mismatch", record.ID))
	}
	return nil
}

// GetTask implements TaskStore.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*task.Record, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?`, id)
	record, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, notFound("GetTask")
	}
	if err != nil {
		return nil, unavailable("GetTask", err)
	}
	return record, nil
}

// ListTasks implements TaskStore.
func (s *SQLiteStore) ListTasks(ctx context.Context, clientID string, page Page, includeDeleted bool) ([]*task.Record, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	query := taskSelectColumns + ` FROM tasks WHERE client_id = ?`
	if !includeDeleted {
		query += ` AND soft_deleted = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, clientID, limit, page.Offset)
	if err != nil {
		return nil, unavailable("ListTasks", err)
	}
	defer rows.Close()

	var out []*task.Record
	for rows.Next() {
		record, err := scanTask(rows.Scan)
		if err != nil {
			return nil, unavailable("ListTasks", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListTasks", err)
	}
	return out, nil
}

// ListByStatus implements TaskStore.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status task.Status) ([]*task.Record, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, unavailable("ListByStatus", err)
	}
	defer rows.Close()

	var out []*task.Record
	for rows.Next() {
		record, err := scanTask(rows.Scan)
		if err != nil {
			return nil, unavailable("ListByStatus", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListByStatus", err)
	}
	return out, nil
}

// SoftDelete implements TaskStore.
func (s *SQLiteStore) SoftDelete(ctx context.Context, id string, force bool) error {
	query := `UPDATE tasks SET soft_deleted = 1 WHERE id = ?`
	args := []any{id}
	if !force {
		query += ` AND status IN (?, ?, ?)`
		args = append(args, string(task.StatusCompleted), string(task.StatusFailed), string(task.StatusCancelled))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return unavailable("SoftDelete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("SoftDelete", err)
	}
	if affected == 0 {
		return conflict("SoftDelete", fmt.Errorf("task %s: not found or still active", id))
	}
	return nil
}

const taskSelectColumns = `
	SELECT id, client_id, flow_id, stored_filename, status, created_at,
	       started_at, ended_at, input_timeout_seconds, max_duration_seconds,
	       input_request_id, results, soft_deleted, reason, diagnostic, status_version`

// scanFn matches both *sql.Row.Scan and *sql.Rows.Scan, mirroring the
// teacher's shared-scan-helper pattern.
type scanFn func(dest ...any) error

func scanTask(scan scanFn) (*task.Record, error) {
	var (
		r                        task.Record
		status                   string
		createdAt                string
		startedAt, endedAt       sql.NullString
		inputRequestID, results  sql.NullString
		softDeleted              int
		reason                   string
	)

	if err := scan(
		&r.ID, &r.ClientID, &r.FlowID, &r.StoredFilename, &status, &createdAt,
		&startedAt, &endedAt, &r.InputTimeoutSeconds, &r.MaxDurationSeconds,
		&inputRequestID, &results, &softDeleted, &reason, &r.Diagnostic, &r.StatusVersion,
	); err != nil {
		return nil, err
	}

	r.Status = task.Status(status)
	r.Reason = task.Reason(reason)
	r.SoftDeleted = softDeleted != 0

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	r.CreatedAt = t

	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("started_at: %w", err)
		}
		r.StartedAt = &t
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("ended_at: %w", err)
		}
		r.EndedAt = &t
	}
	if inputRequestID.Valid {
		id := inputRequestID.String
		r.InputRequestID = &id
	}
	if results.Valid {
		var v any
		if err := json.Unmarshal([]byte(results.String), &v); err != nil {
			return nil, fmt.Errorf("results: %w", err)
		}
		r.Results = v
	}

	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func stringPtrOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func marshalResults(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
