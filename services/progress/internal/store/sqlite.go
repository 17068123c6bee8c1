package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/example/course-platform/internal/progress"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS video_progress (
	user_id           TEXT    NOT NULL,
	video_id          TEXT    NOT NULL,
	watched_intervals TEXT    NOT NULL DEFAULT '[]',
	total_progress    REAL    NOT NULL DEFAULT 0,
	last_position     REAL    NOT NULL DEFAULT 0,
	video_duration    REAL    NOT NULL DEFAULT 0,
	completed         BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at_us     INTEGER NOT NULL DEFAULT 0,
	position_at_us    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_video_progress_recent ON video_progress(user_id, updated_at_us DESC, video_id DESC);
`

// SQLiteRepository keeps progress in a single-file database. The pool holds
// one connection, so transactions never contend inside the process.
type SQLiteRepository struct {
	db    *sql.DB
	Clock Clock
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	// Files created before position_at_us existed.
	if _, err := db.Exec(`ALTER TABLE video_progress ADD COLUMN position_at_us INTEGER NOT NULL DEFAULT 0`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, videoID string) (progress.Record, error) {
	rec, err := r.get(ctx, r.db, userID, videoID)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Record{}, ErrNotFound
	}
	return rec, err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) get(ctx context.Context, q queryRower, userID, videoID string) (progress.Record, error) {
	var (
		raw       string
		us, posUS int64
		rec       progress.Record
	)
	err := q.QueryRowContext(ctx, `
		SELECT watched_intervals, total_progress, last_position, video_duration, completed, updated_at_us, position_at_us
		FROM video_progress WHERE user_id = ? AND video_id = ?`, userID, videoID).
		Scan(&raw, &rec.TotalProgress, &rec.LastPosition, &rec.VideoDuration, &rec.Completed, &us, &posUS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progress.Record{}, err
		}
		return progress.Record{}, fmt.Errorf("get progress: %w", err)
	}
	rec.PositionAt = fromMicros(posUS)
	return sqliteRow(rec, userID, videoID, raw, us)
}

func (r *SQLiteRepository) Commit(ctx context.Context, userID, videoID string, c progress.Commit) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := r.get(ctx, tx, userID, videoID)
	if errors.Is(err, sql.ErrNoRows) {
		cur, err = progress.NewRecord(userID, videoID), nil
	}
	if err != nil {
		return Result{}, err
	}

	out, err := cur.Apply(c, r.Clock.now())
	if err != nil {
		return Result{}, err
	}
	set, err := json.Marshal(out.WatchedIntervals)
	if err != nil {
		return Result{}, fmt.Errorf("encode intervals: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO video_progress (user_id, video_id, watched_intervals, total_progress, last_position, video_duration, completed, updated_at_us, position_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, video_id) DO UPDATE SET
			watched_intervals = excluded.watched_intervals,
			total_progress    = excluded.total_progress,
			last_position     = excluded.last_position,
			video_duration    = excluded.video_duration,
			completed         = excluded.completed,
			updated_at_us     = excluded.updated_at_us,
			position_at_us    = excluded.position_at_us`,
		userID, videoID, string(set), out.TotalProgress, out.LastPosition,
		out.VideoDuration, out.Completed, out.UpdatedAt.UnixMicro(), micros(out.PositionAt))
	if err != nil {
		return Result{}, fmt.Errorf("upsert progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit progress: %w", err)
	}
	return result(cur, out), nil
}

func (r *SQLiteRepository) List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]progress.Record, error) {
	q := `SELECT video_id, watched_intervals, total_progress, last_position, video_duration, completed, updated_at_us, position_at_us
	      FROM video_progress WHERE user_id = ? AND video_duration > 0`
	args := []any{userID}
	if cursor != nil {
		q += ` AND (updated_at_us < ? OR (updated_at_us = ? AND video_id < ?))`
		us := cursor.UpdatedAt.UnixMicro()
		args = append(args, us, us, cursor.VideoID)
	}
	q += ` ORDER BY updated_at_us DESC, video_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []progress.Record
	for rows.Next() {
		var (
			videoID, raw string
			us, posUS    int64
			rec          progress.Record
		)
		if err := rows.Scan(&videoID, &raw, &rec.TotalProgress, &rec.LastPosition, &rec.VideoDuration, &rec.Completed, &us, &posUS); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		rec.PositionAt = fromMicros(posUS)
		rec, err = sqliteRow(rec, userID, videoID, raw, us)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func sqliteRow(rec progress.Record, userID, videoID, raw string, us int64) (progress.Record, error) {
	rec.UpdatedAt = fromMicros(us)
	return decodeRow(rec, userID, videoID, []byte(raw))
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

var _ Repository = (*SQLiteRepository)(nil)
