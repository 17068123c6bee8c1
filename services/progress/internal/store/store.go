package store

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/example/course-platform/internal/progress"
)

// ErrNotFound is returned by Get when no record exists for the pair.
var ErrNotFound = errors.New("progress record not found")

// ErrInvalidCursor is returned by DecodeCursor for tokens it did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the decoded form of the opaque pagination cursor.
// Listing is ordered by (UpdatedAt, VideoID) descending; the cursor is exclusive.
type Cursor struct {
	UpdatedAt time.Time
	VideoID   string
}

// Repository persists progress records. Commit is the atomic unit: the
// incoming interval is merged against the persisted set inside one
// read-merge-write, so concurrent sessions never lose coverage.
type Repository interface {
	Get(ctx context.Context, userID, videoID string) (progress.Record, error)
	// Commit lazily creates the record and applies c to it.
	Commit(ctx context.Context, userID, videoID string, c progress.Commit) (Result, error)
	// List returns up to limit records, most recently updated first.
	List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]progress.Record, error)
}

// Result is the outcome of one Commit.
type Result struct {
	Record progress.Record
	// JustCompleted is set when this commit moved the record across
	// progress.CompletedThreshold.
	JustCompleted bool
}

func result(before, after progress.Record) Result {
	return Result{Record: after, JustCompleted: after.Completed && !before.Completed}
}

// Clock returns commit timestamps truncated to the microsecond so every
// backend round-trips them exactly.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func (c Clock) now() time.Time {
	if c == nil {
		return systemClock().Truncate(time.Microsecond)
	}
	return c().UTC().Truncate(time.Microsecond)
}

// micros encodes t for integer timestamp columns. The zero time is 0.
func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// EncodeCursor encodes the position after rec as an opaque token.
func EncodeCursor(rec progress.Record) string {
	raw := strconv.FormatInt(rec.UpdatedAt.UnixMicro(), 10) + ":" + rec.VideoID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token is
// the first page (nil cursor); anything else that does not parse is
// ErrInvalidCursor.
func DecodeCursor(raw string) (*Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, ErrInvalidCursor
	}
	us, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || us <= 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{UpdatedAt: time.UnixMicro(us).UTC(), VideoID: parts[1]}, nil
}

// before reports whether rec sorts strictly after the cursor position.
func (c *Cursor) before(rec progress.Record) bool {
	if c == nil {
		return true
	}
	if !rec.UpdatedAt.Equal(c.UpdatedAt) {
		return rec.UpdatedAt.Before(c.UpdatedAt)
	}
	return rec.VideoID < c.VideoID
}
