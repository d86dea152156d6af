package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Satyampatil513/resume-editor/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS compile_queue (
	seq        BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL,
	job        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS job_results (
	job_id     TEXT PRIMARY KEY,
	result     JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_results_expires_at_idx ON job_results (expires_at);
`

// PostgresQueue stores jobs and results in two tables. Dequeue uses
// SKIP LOCKED so concurrent consumers never pop the same row.
type PostgresQueue struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresQueue wraps an existing pool
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool, now: time.Now}
}

// ConnectPostgres opens a pool and checks connectivity
func ConnectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return pool, nil
}

// Migrate creates the queue tables if they do not exist
func (q *PostgresQueue) Migrate(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create queue tables: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job *models.Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	if _, err := q.pool.Exec(ctx, `INSERT INTO compile_queue (job_id, job) VALUES ($1, $2)`, job.ID, data); err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	var data []byte
	err := q.pool.QueryRow(ctx, `
		DELETE FROM compile_queue
		WHERE seq = (
			SELECT seq FROM compile_queue
			ORDER BY seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dequeue: %v", ErrUnavailable, err)
	}
	return decodeJob(data)
}

func (q *PostgresQueue) PublishResult(ctx context.Context, jobID string, result *models.JobResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	now := q.now()
	if _, err := q.pool.Exec(ctx, `DELETE FROM job_results WHERE expires_at <= $1`, now); err != nil {
		return fmt.Errorf("%w: purge results: %v", ErrUnavailable, err)
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO job_results (job_id, result, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET result = EXCLUDED.result, expires_at = EXCLUDED.expires_at`,
		jobID, data, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("%w: publish result: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *PostgresQueue) ConsumeResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	var (
		data      []byte
		expiresAt time.Time
	)
	err := q.pool.QueryRow(ctx,
		`DELETE FROM job_results WHERE job_id = $1 RETURNING result, expires_at`, jobID).Scan(&data, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("%w: consume result: %v", ErrUnavailable, err)
	}
	if !q.now().Before(expiresAt) {
		return nil, ErrNoResult
	}
	return decodeResult(data)
}
