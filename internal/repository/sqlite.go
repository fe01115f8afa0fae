// Package repository persists the run journal.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 20

// SQLiteStore journals runs and their lifecycle events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			record_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (record_id) REFERENCES runs(record_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_record ON events(record_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}

	// Journals created before chunk counting lack the column.
	return s.ensureColumn("runs", "chunk_count",
		`ALTER TABLE runs ADD COLUMN chunk_count INTEGER NOT NULL DEFAULT 0`)
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun records a newly started run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (record_id, thread_id, run_id, agent_id, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RecordID, run.ThreadID, run.RunID, run.AgentID, run.Status, run.StartedAt)
	return err
}

// GetRun retrieves a run by record ID. It returns nil when no run matches.
func (s *SQLiteStore) GetRun(ctx context.Context, recordID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record_id, thread_id, run_id, agent_id, status, started_at, ended_at, chunk_count, error FROM runs WHERE record_id = ?`,
		recordID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun marks a run as ended.
func (s *SQLiteStore) CompleteRun(ctx context.Context, recordID string, status domain.RunStatus, chunkCount int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, chunk_count = ?, error = ? WHERE record_id = ?`,
		status, time.Now(), chunkCount, nullString(errMsg), recordID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", recordID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, thread_id, run_id, agent_id, status, started_at, ended_at, chunk_count, error
		 FROM runs ORDER BY started_at DESC, record_id LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CreateEvent appends a journaled event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, record_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.RecordID, event.Ts, event.Type, nullStringBytes(event.Payload))
	return err
}

// GetEvents retrieves the events of a run in emission order.
func (s *SQLiteStore) GetEvents(ctx context.Context, recordID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, record_id, ts, type, payload FROM events WHERE record_id = ? ORDER BY ts ASC, rowid ASC`,
		recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RecordID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var endedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&run.RecordID, &run.ThreadID, &run.RunID, &run.AgentID, &run.Status,
		&run.StartedAt, &endedAt, &run.ChunkCount, &errMsg); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
