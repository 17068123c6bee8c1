// Package progressv1 is the wire contract of progress.v1.ProgressService.
// Messages are plain structs carried by the grpcjson codec.
package progressv1

import (
	"time"

	"github.com/example/course-platform/internal/progress"
)

type GetProgressRequest struct {
	UserID  string `json:"user_id"`
	VideoID string `json:"video_id"`
}

type CommitProgressRequest struct {
	UserID        string            `json:"user_id"`
	VideoID       string            `json:"video_id"`
	Interval      progress.Interval `json:"interval"`
	VideoDuration float64           `json:"video_duration"`
	LastPosition  *float64          `json:"last_position,omitempty"`
	ClientTS      time.Time         `json:"client_ts,omitzero"`
}

// Commit converts the request into the unit applied by the store.
func (r *CommitProgressRequest) Commit() progress.Commit {
	return progress.Commit{Interval: r.Interval, VideoDuration: r.VideoDuration, LastPosition: r.LastPosition, ClientTS: r.ClientTS}
}

type ProgressResponse struct {
	Progress progress.Record `json:"progress"`
}

type ListProgressRequest struct {
	UserID string `json:"user_id"`
	Limit  int32  `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type ListProgressResponse struct {
	Items      []progress.Record `json:"items"`
	Limit      int32             `json:"limit"`
	NextCursor string            `json:"next_cursor,omitempty"`
}
