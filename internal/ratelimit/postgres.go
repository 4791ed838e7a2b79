package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore keeps one row per key in app_schema.rate_limits.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(database *sql.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	now = now.UTC()
	threshold := now.Add(-window)

	var counter Counter
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_schema.rate_limits (key, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (key) DO UPDATE
		SET
			hits = CASE
				WHEN app_schema.rate_limits.window_started_at <= $3 THEN 1
				ELSE app_schema.rate_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN app_schema.rate_limits.window_started_at <= $3 THEN $2
				ELSE app_schema.rate_limits.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, key, now, threshold).Scan(&counter.Count, &counter.WindowStart)
	if err != nil {
		return Counter{}, fmt.Errorf("upsert rate limit: %w", err)
	}

	return counter, nil
}

func (s *PostgresStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_schema.rate_limits
		WHERE window_started_at <= $1
	`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rate limits rows affected: %w", err)
	}
	return deleted, nil
}
