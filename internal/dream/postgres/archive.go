// Package postgres persists completed dreams to PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dreampulse/dreampulse/internal/dream"
)

var _ dream.Archiver = (*Archive)(nil)

// Archive is a PostgreSQL-backed [dream.Archiver]. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Archive struct {
	pool *pgxpool.Pool
}

// schema creates the dreams table on first connect. Video fields are nullable
// in principle but the pipeline only archives completed runs, so they are
// always populated in practice.
const schema = `
CREATE TABLE IF NOT EXISTS dreams (
    id             BIGSERIAL PRIMARY KEY,
    transcript     TEXT NOT NULL,
    interpretation TEXT NOT NULL,
    prompt         TEXT NOT NULL,
    prompt_source  TEXT NOT NULL,
    video_task_id  TEXT NOT NULL DEFAULT '',
    video_url      TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Open creates an Archive, establishes a connection pool to the PostgreSQL
// database at dsn, and ensures the dreams table exists.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dream archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dream archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dream archive: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dream archive: migrate: %w", err)
	}

	return &Archive{pool: pool}, nil
}

// Save inserts one completed dream.
func (a *Archive) Save(ctx context.Context, d *dream.Result) error {
	var taskID, videoURL string
	if d.Video != nil {
		taskID = d.Video.TaskID
		videoURL = d.Video.VideoURL
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO dreams (transcript, interpretation, prompt, prompt_source, video_task_id, video_url)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.Transcript, d.Interpretation, d.Prompt, d.PromptSource, taskID, videoURL,
	)
	if err != nil {
		return fmt.Errorf("dream archive: insert: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable; used by the readiness
// probe.
func (a *Archive) Ping(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("dream archive: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}
