package progressv1

import (
	"time"

	"github.com/example/course-platform/internal/progress"
)

// JetStream names for fire-and-forget commits sent while a page unloads.
const (
	BeaconStream   = "PROGRESS"
	BeaconSubject  = "progress.commit"
	BeaconDurable  = "progress_commit"
	BeaconSubjects = "progress.>"
)

// BeaconEvent is the JetStream payload the BFF publishes for a beacon commit.
type BeaconEvent struct {
	EventID       string            `json:"event_id"`
	UserID        string            `json:"user_id"`
	VideoID       string            `json:"video_id"`
	Interval      progress.Interval `json:"interval"`
	VideoDuration float64           `json:"video_duration"`
	LastPosition  *float64          `json:"last_position,omitempty"`
	ClientTS      time.Time         `json:"client_ts,omitzero"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Commit converts the event into a store commit. Without a client timestamp
// the publish time orders the resume point, so a redelivered event never
// rewinds it.
func (e *BeaconEvent) Commit() progress.Commit {
	ts := e.ClientTS
	if ts.IsZero() {
		ts = e.CreatedAt
	}
	return progress.Commit{Interval: e.Interval, VideoDuration: e.VideoDuration, LastPosition: e.LastPosition, ClientTS: ts}
}
