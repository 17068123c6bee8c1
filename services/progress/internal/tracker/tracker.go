// Package tracker is the progress service core: it validates identities,
// delegates the atomic merge to the store and emits metrics and analytics.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/metrics"
	"github.com/example/course-platform/internal/progress"
	"github.com/example/course-platform/services/progress/internal/store"
)

// maxIDLen bounds user and video identifiers.
const maxIDLen = 128

// ErrInvalidID is returned for blank or oversize identifiers.
var ErrInvalidID = errors.New("invalid identifier")

// Commit sources, used as a metrics label.
const (
	SourceRPC    = "rpc"
	SourceBeacon = "beacon"
)

// Publisher receives analytics events. *analytics.Publisher satisfies it.
type Publisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

type Tracker struct {
	repo store.Repository
	pub  Publisher
	log  *zap.Logger
}

func New(repo store.Repository, pub Publisher, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{repo: repo, pub: pub, log: log}
}

// Get returns the stored record, or the empty record of a never-committed pair.
func (t *Tracker) Get(ctx context.Context, userID, videoID string) (progress.Record, error) {
	userID, videoID, err := cleanIDs(userID, videoID)
	if err != nil {
		return progress.Record{}, err
	}
	rec, err := t.repo.Get(ctx, userID, videoID)
	if errors.Is(err, store.ErrNotFound) {
		return progress.NewRecord(userID, videoID), nil
	}
	return rec, err
}

// Commit applies c through the store's atomic merge.
func (t *Tracker) Commit(ctx context.Context, source, userID, videoID string, c progress.Commit) (progress.Record, error) {
	userID, videoID, err := cleanIDs(userID, videoID)
	if err != nil {
		return progress.Record{}, err
	}
	if err := c.Validate(); err != nil {
		metrics.CommitsTotal.WithLabelValues(source, "rejected").Inc()
		return progress.Record{}, err
	}

	start := time.Now()
	res, err := t.repo.Commit(ctx, userID, videoID, c)
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		result := "error"
		if errors.Is(err, progress.ErrMalformedInterval) || errors.Is(err, progress.ErrInvalidDuration) {
			result = "rejected"
		} else {
			t.log.Error("progress commit failed",
				zap.String("user_id", userID), zap.String("video_id", videoID), zap.Error(err))
		}
		metrics.CommitsTotal.WithLabelValues(source, result).Inc()
		return progress.Record{}, err
	}

	rec := res.Record
	metrics.CommitsTotal.WithLabelValues(source, "ok").Inc()
	metrics.WatchedIntervals.Observe(float64(len(rec.WatchedIntervals)))
	t.log.Debug("progress committed",
		zap.String("user_id", userID),
		zap.String("video_id", videoID),
		zap.String("source", source),
		zap.Float64("start", c.Interval.Start),
		zap.Float64("end", c.Interval.End),
		zap.Float64("total_progress", rec.TotalProgress),
		zap.Int("intervals", len(rec.WatchedIntervals)),
	)

	if t.pub != nil {
		props := map[string]any{
			"video_id":       videoID,
			"start":          c.Interval.Start,
			"end":            c.Interval.End,
			"total_progress": rec.TotalProgress,
			"last_position":  rec.LastPosition,
		}
		t.pub.Publish(analytics.SubjectProgressCommitted, "progress_committed", userID, props)
		if res.JustCompleted {
			metrics.CompletionsTotal.Inc()
			t.pub.Publish(analytics.SubjectProgressCompleted, "progress_completed", userID, map[string]any{
				"video_id":       videoID,
				"video_duration": rec.VideoDuration,
			})
		}
	} else if res.JustCompleted {
		metrics.CompletionsTotal.Inc()
	}
	return rec, nil
}

// List returns one page of the user's records, most recent first.
func (t *Tracker) List(ctx context.Context, userID string, limit int, cursor *store.Cursor) ([]progress.Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxIDLen {
		return nil, fmt.Errorf("%w: user_id", ErrInvalidID)
	}
	return t.repo.List(ctx, userID, limit, cursor)
}

func cleanIDs(userID, videoID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	videoID = strings.TrimSpace(videoID)
	if userID == "" || len(userID) > maxIDLen {
		return "", "", fmt.Errorf("%w: user_id", ErrInvalidID)
	}
	if videoID == "" || len(videoID) > maxIDLen {
		return "", "", fmt.Errorf("%w: video_id", ErrInvalidID)
	}
	return userID, videoID, nil
}
