package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS request_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	request_id TEXT,
	success BOOLEAN,
	tokens_used INTEGER,
	original_model TEXT,
	provider TEXT,
	routed_model TEXT,
	duration_seconds REAL,
	error_message TEXT,
	is_streaming BOOLEAN DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_request_history_timestamp ON request_history (timestamp);
`

// SQLStore keeps history in a database/sql database using ? placeholders.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database that already has the request_history table.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLite opens (or creates) the SQLite file at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			slog.Warn("sqlite pragma failed", "pragma", pragma, "error", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Record(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_history
			(timestamp, request_id, success, tokens_used, original_model, provider, routed_model, duration_seconds, error_message, is_streaming)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC(), ev.RequestID, ev.Success, ev.Tokens, ev.OriginalModel,
		ev.Provider, ev.RoutedModel, ev.DurationSeconds(), nullString(ev.ErrorMessage), ev.Streaming,
	)
	if err != nil {
		return fmt.Errorf("insert request history: %w", err)
	}
	return nil
}

// List returns events newest first.
func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, request_id, success, tokens_used, original_model, provider, routed_model, duration_seconds, error_message, is_streaming
		FROM request_history
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query request history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			seconds  float64
			errorMsg sql.NullString
		)
		if err := rows.Scan(&ev.Timestamp, &ev.RequestID, &ev.Success, &ev.Tokens, &ev.OriginalModel,
			&ev.Provider, &ev.RoutedModel, &seconds, &errorMsg, &ev.Streaming); err != nil {
			return nil, fmt.Errorf("scan request history: %w", err)
		}
		ev.Duration = time.Duration(seconds * float64(time.Second))
		ev.ErrorMessage = errorMsg.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events recorded before the cutoff.
func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_history WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune request history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
