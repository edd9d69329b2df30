// Package repository persists request statistics to Postgres. Each request
// is stored as a row and rolled into an hourly aggregate in one transaction.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"ztoapi/internal/stats"
)

type PostgresStatsRepository struct {
	db *sql.DB
}

func NewPostgresStatsRepository(db *sql.DB) *PostgresStatsRepository {
	return &PostgresStatsRepository{db: db}
}

func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func (r *PostgresStatsRepository) Insert(ctx context.Context, ev stats.Event) error {
	query := `
		INSERT INTO request_stats (ts, platform, model, status, duration_ms,
		                           is_streaming, cache_hit, token_source, message_count, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		ev.Timestamp,
		ev.Platform,
		ev.Model,
		ev.Status,
		ev.Duration.Milliseconds(),
		ev.IsStreaming,
		ev.CacheHit,
		ev.TokenSource,
		ev.MessageCount,
		ev.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("insert request stat: %w", err)
	}

	return nil
}

func (r *PostgresStatsRepository) UpsertHourly(ctx context.Context, ev stats.Event) error {
	hour := ev.Timestamp.Truncate(time.Hour)
	success := 0
	if ev.Status >= 200 && ev.Status < 300 {
		success = 1
	}

	query := `
		INSERT INTO request_stats_hourly (hour, platform, model, total, success, duration_ms_sum)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (hour, platform, model) DO UPDATE
		SET total = request_stats_hourly.total + 1,
		    success = request_stats_hourly.success + EXCLUDED.success,
		    duration_ms_sum = request_stats_hourly.duration_ms_sum + EXCLUDED.duration_ms_sum
	`

	_, err := r.db.ExecContext(ctx, query,
		hour,
		ev.Platform,
		ev.Model,
		success,
		ev.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert hourly stat: %w", err)
	}

	return nil
}

// Record implements stats.Sink. Database trouble is logged and swallowed so
// the stats worker keeps draining.
func (r *PostgresStatsRepository) Record(ctx context.Context, ev stats.Event) {
	if err := r.Insert(ctx, ev); err != nil {
		slog.Warn("failed to persist request stat", "error", err)
		return
	}
	if err := r.UpsertHourly(ctx, ev); err != nil {
		slog.Warn("failed to update hourly aggregate", "error", err)
	}
}
