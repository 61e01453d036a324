// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/repository"
	"github.com/nadmax/nexrun/internal/repository/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS campaign_runs (
		campaign_id     TEXT PRIMARY KEY,
		target          TEXT NOT NULL,
		state           TEXT NOT NULL,
		target_count    INTEGER NOT NULL,
		batch_size      INTEGER NOT NULL,
		successes       INTEGER NOT NULL DEFAULT 0,
		failures        INTEGER NOT NULL DEFAULT 0,
		batches         INTEGER NOT NULL DEFAULT 0,
		success_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
		delay_seconds   DOUBLE PRECISION NOT NULL DEFAULT 0,
		runtime_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_message   TEXT,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_campaign_runs_target ON campaign_runs (target);
	CREATE TABLE IF NOT EXISTS campaign_batches (
		id            BIGSERIAL PRIMARY KEY,
		campaign_id   TEXT NOT NULL,
		batch_number  INTEGER NOT NULL,
		size          INTEGER NOT NULL,
		successes     INTEGER NOT NULL,
		duration_ms   BIGINT NOT NULL,
		throughput    DOUBLE PRECISION NOT NULL,
		low_yield     BOOLEAN NOT NULL,
		delay_seconds DOUBLE PRECISION NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		UNIQUE (campaign_id, batch_number)
	);
`

type PostgresCampaignRepository struct {
	db *sql.DB
}

var _ repository.CampaignRepository = (*PostgresCampaignRepository)(nil)

func NewPostgresCampaignRepository(connectionString string) (*PostgresCampaignRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresCampaignRepository{db: db}, nil
}

func (r *PostgresCampaignRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (r *PostgresCampaignRepository) SaveRun(ctx context.Context, s campaign.Status) error {
	query := `
		INSERT INTO campaign_runs (
			campaign_id, target, state, target_count, batch_size,
			successes, failures, batches, success_rate, delay_seconds,
			runtime_seconds, error_message, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (campaign_id) DO UPDATE SET
			state = EXCLUDED.state,
			successes = EXCLUDED.successes,
			failures = EXCLUDED.failures,
			batches = EXCLUDED.batches,
			success_rate = EXCLUDED.success_rate,
			delay_seconds = EXCLUDED.delay_seconds,
			runtime_seconds = EXCLUDED.runtime_seconds,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at
	`

	var errMsg any
	if s.Error != "" {
		errMsg = s.Error
	}

	var finishedAt any
	if s.FinishedAt != nil {
		finishedAt = *s.FinishedAt
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		s.ID,
		s.Target,
		string(s.State),
		s.TargetCount,
		s.BatchSize,
		s.Successes,
		s.Failures,
		s.Batches,
		s.SuccessRate,
		s.DelaySeconds,
		s.RuntimeSeconds,
		errMsg,
		s.StartedAt,
		finishedAt,
	)

	return err
}

func (r *PostgresCampaignRepository) RecordBatch(ctx context.Context, b campaign.BatchRecord) error {
	query := `
		INSERT INTO campaign_batches (
			campaign_id, batch_number, size, successes, duration_ms,
			throughput, low_yield, delay_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (campaign_id, batch_number) DO NOTHING
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		b.CampaignID,
		b.Number,
		b.Size,
		b.Successes,
		b.Duration.Milliseconds(),
		b.Throughput,
		b.LowYield,
		b.DelaySeconds,
		b.CreatedAt,
	)

	return err
}

const runColumns = `
	campaign_id, target, state, target_count, batch_size,
	successes, failures, batches, success_rate, delay_seconds,
	runtime_seconds, COALESCE(error_message, ''), started_at, finished_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (models.CampaignRun, error) {
	var run models.CampaignRun
	var finishedAt sql.NullTime

	err := s.Scan(
		&run.CampaignID,
		&run.Target,
		&run.State,
		&run.TargetCount,
		&run.BatchSize,
		&run.Successes,
		&run.Failures,
		&run.Batches,
		&run.SuccessRate,
		&run.DelaySeconds,
		&run.RuntimeSeconds,
		&run.ErrorMessage,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return run, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

func (r *PostgresCampaignRepository) GetRun(ctx context.Context, campaignID string) (*models.CampaignRun, error) {
	query := `SELECT ` + runColumns + ` FROM campaign_runs WHERE campaign_id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, campaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", campaign.ErrNotFound, campaignID)
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *PostgresCampaignRepository) GetRecentRuns(ctx context.Context, limit int) ([]models.CampaignRun, error) {
	query := `SELECT ` + runColumns + ` FROM campaign_runs ORDER BY started_at DESC LIMIT $1`
	return r.queryRuns(ctx, query, limit)
}

func (r *PostgresCampaignRepository) GetRunsByTarget(ctx context.Context, target string, limit int) ([]models.CampaignRun, error) {
	query := `SELECT ` + runColumns + ` FROM campaign_runs WHERE target = $1 ORDER BY started_at DESC LIMIT $2`
	return r.queryRuns(ctx, query, target, limit)
}

func (r *PostgresCampaignRepository) queryRuns(ctx context.Context, query string, args ...any) ([]models.CampaignRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var runs []models.CampaignRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *PostgresCampaignRepository) GetBatches(ctx context.Context, campaignID string) ([]models.BatchHistory, error) {
	query := `
		SELECT
			campaign_id, batch_number, size, successes, duration_ms,
			throughput, low_yield, delay_seconds, created_at
		FROM campaign_batches
		WHERE campaign_id = $1
		ORDER BY batch_number ASC
	`
	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var batches []models.BatchHistory
	for rows.Next() {
		var b models.BatchHistory
		if err := rows.Scan(
			&b.CampaignID,
			&b.BatchNumber,
			&b.Size,
			&b.Successes,
			&b.DurationMs,
			&b.Throughput,
			&b.LowYield,
			&b.DelaySeconds,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}

		batches = append(batches, b)
	}

	return batches, rows.Err()
}

func (r *PostgresCampaignRepository) GetCampaignStats(ctx context.Context, hours int) ([]models.CampaignStats, error) {
	query := `
		SELECT
			target, state, COUNT(*) as count,
			COALESCE(SUM(successes), 0) as total_successes,
			COALESCE(SUM(failures), 0) as total_failures,
			COALESCE(AVG(success_rate), 0) as avg_success_rate,
			COALESCE(AVG(runtime_seconds), 0) as avg_runtime_seconds
		FROM campaign_runs
		WHERE started_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY target, state
		ORDER BY target, state
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var stats []models.CampaignStats
	for rows.Next() {
		var s models.CampaignStats
		if err := rows.Scan(
			&s.Target,
			&s.State,
			&s.Count,
			&s.TotalSuccesses,
			&s.TotalFailures,
			&s.AvgSuccessRate,
			&s.AvgRuntimeSecs,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresCampaignRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresCampaignRepository) Close() error {
	return r.db.Close()
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.WithComponent("repository").Error().Err(err).Msg("Failed to close rows.")
	}
}
