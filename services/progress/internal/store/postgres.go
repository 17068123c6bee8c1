package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/course-platform/internal/progress"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS video_progress (
  user_id           TEXT             NOT NULL,
  video_id          TEXT             NOT NULL,
  watched_intervals JSONB            NOT NULL DEFAULT '[]'::jsonb,
  total_progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_position     DOUBLE PRECISION NOT NULL DEFAULT 0,
  video_duration    DOUBLE PRECISION NOT NULL DEFAULT 0,
  completed         BOOLEAN          NOT NULL DEFAULT FALSE,
  updated_at        TIMESTAMPTZ      NOT NULL DEFAULT now(),
  position_at_us    BIGINT           NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, video_id)
);
ALTER TABLE video_progress ADD COLUMN IF NOT EXISTS position_at_us BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_video_progress_recent
  ON video_progress (user_id, updated_at DESC, video_id DESC);`

// PostgresRepository is the production Postgres-backed implementation.
type PostgresRepository struct {
	db    *pgxpool.Pool
	Clock Clock
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the table and index when missing.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate video_progress: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, videoID string) (progress.Record, error) {
	q := `SELECT watched_intervals, total_progress, last_position, video_duration, completed, updated_at, position_at_us
	      FROM video_progress WHERE user_id=$1 AND video_id=$2`
	rec, err := scanRecord(r.db.QueryRow(ctx, q, userID, videoID), userID, videoID)
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.Record{}, ErrNotFound
	}
	if err != nil {
		return progress.Record{}, fmt.Errorf("get progress: %w", err)
	}
	return rec, nil
}

// Commit locks the row for the duration of the merge. The first commit for a
// pair inserts an empty row so the lock always has something to hold.
func (r *PostgresRepository) Commit(ctx context.Context, userID, videoID string, c progress.Commit) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO video_progress (user_id, video_id) VALUES ($1, $2)
	      ON CONFLICT (user_id, video_id) DO NOTHING`, userID, videoID); err != nil {
		return Result{}, fmt.Errorf("create progress row: %w", err)
	}

	q := `SELECT watched_intervals, total_progress, last_position, video_duration, completed, updated_at, position_at_us
	      FROM video_progress WHERE user_id=$1 AND video_id=$2 FOR UPDATE`
	cur, err := scanRecord(tx.QueryRow(ctx, q, userID, videoID), userID, videoID)
	if err != nil {
		return Result{}, fmt.Errorf("lock progress row: %w", err)
	}

	out, err := cur.Apply(c, r.Clock.now())
	if err != nil {
		return Result{}, err
	}
	set, err := json.Marshal(out.WatchedIntervals)
	if err != nil {
		return Result{}, fmt.Errorf("encode intervals: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE video_progress SET
	  watched_intervals = $3, total_progress = $4, last_position = $5,
	  video_duration = $6, completed = $7, updated_at = $8, position_at_us = $9
	  WHERE user_id=$1 AND video_id=$2`,
		userID, videoID, string(set), out.TotalProgress, out.LastPosition,
		out.VideoDuration, out.Completed, out.UpdatedAt, micros(out.PositionAt))
	if err != nil {
		return Result{}, fmt.Errorf("update progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit progress: %w", err)
	}
	return result(cur, out), nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]progress.Record, error) {
	q := `SELECT video_id, watched_intervals, total_progress, last_position, video_duration, completed, updated_at, position_at_us
	      FROM video_progress WHERE user_id=$1 AND video_duration > 0`
	args := []any{userID}

	if cursor != nil {
		q += " AND (updated_at, video_id) < ($2, $3)"
		args = append(args, cursor.UpdatedAt, cursor.VideoID)
	}
	q += " ORDER BY updated_at DESC, video_id DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []progress.Record
	for rows.Next() {
		var (
			videoID string
			raw     []byte
			posUS   int64
			rec     progress.Record
		)
		if err := rows.Scan(&videoID, &raw, &rec.TotalProgress, &rec.LastPosition, &rec.VideoDuration, &rec.Completed, &rec.UpdatedAt, &posUS); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		rec.PositionAt = fromMicros(posUS)
		rec, err = decodeRow(rec, userID, videoID, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row, userID, videoID string) (progress.Record, error) {
	var (
		raw   []byte
		posUS int64
		rec   progress.Record
	)
	if err := row.Scan(&raw, &rec.TotalProgress, &rec.LastPosition, &rec.VideoDuration, &rec.Completed, &rec.UpdatedAt, &posUS); err != nil {
		return progress.Record{}, err
	}
	rec.PositionAt = fromMicros(posUS)
	return decodeRow(rec, userID, videoID, raw)
}

// decodeRow fills identity and intervals and re-derives the cached fields
// from what is stored.
func decodeRow(rec progress.Record, userID, videoID string, raw []byte) (progress.Record, error) {
	rec.UserID = userID
	rec.VideoID = videoID
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	var set progress.WatchedSet
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &set); err != nil {
			return progress.Record{}, fmt.Errorf("decode intervals for %s/%s: %w", userID, videoID, err)
		}
	}
	rec.WatchedIntervals = set
	return rec.Recompute(), nil
}

// Ping reports pool health for readiness probes.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.Ping(ctx)
}

var _ Repository = (*PostgresRepository)(nil)
