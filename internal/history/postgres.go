package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps history in the request_history table created by the
// migrations under migrations/.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Record(ctx context.Context, ev Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_history
			(timestamp, request_id, success, tokens_used, original_model, provider, routed_model, duration_seconds, error_message, is_streaming)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		ev.Timestamp.UTC(), ev.RequestID, ev.Success, ev.Tokens, ev.OriginalModel,
		ev.Provider, ev.RoutedModel, ev.DurationSeconds(), ev.ErrorMessage, ev.Streaming,
	)
	if err != nil {
		return fmt.Errorf("insert request history: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT timestamp, request_id, success, tokens_used, original_model, provider, routed_model,
		       duration_seconds, COALESCE(error_message, ''), is_streaming
		FROM request_history
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query request history: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			ev      Event
			seconds float64
		)
		err := row.Scan(&ev.Timestamp, &ev.RequestID, &ev.Success, &ev.Tokens, &ev.OriginalModel,
			&ev.Provider, &ev.RoutedModel, &seconds, &ev.ErrorMessage, &ev.Streaming)
		ev.Duration = time.Duration(seconds * float64(time.Second))
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan request history: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM request_history WHERE timestamp < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune request history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
