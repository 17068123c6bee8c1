package progress

import (
	"fmt"
	"math"
	"time"
)

// CompletedThreshold is the coverage percentage at which a video counts as completed.
const CompletedThreshold = 90.0

// progressEpsilon absorbs float rounding when comparing a cached percentage
// with a fresh recomputation.
const progressEpsilon = 1e-9

// Record is the durable per-(user, video) progress state.
type Record struct {
	VideoID          string     `json:"videoId"`
	UserID           string     `json:"userId"`
	WatchedIntervals WatchedSet `json:"watchedIntervals"`
	TotalProgress    float64    `json:"totalProgress"`
	LastPosition     float64    `json:"lastPosition"`
	VideoDuration    float64    `json:"videoDuration"`
	Completed        bool       `json:"completed"`
	UpdatedAt        time.Time  `json:"updatedAt,omitempty"`
	// PositionAt is the client timestamp of the commit that set LastPosition.
	PositionAt time.Time `json:"positionAt,omitzero"`
}

// NewRecord returns the lazily created state of a pair that has never been committed.
func NewRecord(userID, videoID string) Record {
	return Record{UserID: userID, VideoID: videoID, WatchedIntervals: WatchedSet{}}
}

// Commit is one unit of progress applied to a Record.
type Commit struct {
	Interval      Interval `json:"interval"`
	VideoDuration float64  `json:"videoDuration"`
	// LastPosition overrides the resume point. When nil the clipped interval
	// end is used.
	LastPosition *float64 `json:"lastPosition,omitempty"`
	// ClientTS is when the client observed the position. Zero means the
	// commit time.
	ClientTS time.Time `json:"clientTs,omitzero"`
}

// Validate rejects commits a Store must not apply.
func (c Commit) Validate() error {
	if err := c.Interval.Validate(); err != nil {
		return err
	}
	if !(c.VideoDuration > 0) || math.IsInf(c.VideoDuration, 0) {
		return ErrInvalidDuration
	}
	if c.LastPosition != nil && (!finite(*c.LastPosition) || *c.LastPosition < 0) {
		return fmt.Errorf("%w: last position %.3f", ErrMalformedInterval, *c.LastPosition)
	}
	return nil
}

// Apply merges c into r and recomputes the derived fields. r is not modified.
func (r Record) Apply(c Commit, now time.Time) (Record, error) {
	if err := c.Validate(); err != nil {
		return r, err
	}

	out := r
	set := r.WatchedIntervals
	if r.VideoDuration != c.VideoDuration {
		// A changed duration re-clips what was already stored.
		set = Normalize(set, c.VideoDuration)
	}
	out.WatchedIntervals = Merge(set, c.Interval, c.VideoDuration).Clone()
	out.VideoDuration = c.VideoDuration

	pct, err := Percentage(out.WatchedIntervals, out.VideoDuration)
	if err != nil {
		return r, err
	}
	out.TotalProgress = pct
	out.Completed = pct >= CompletedThreshold

	// Coverage always merges; the resume point only moves forward in client time.
	ts := c.ClientTS
	if ts.IsZero() {
		ts = now
	}
	ts = ts.UTC().Truncate(time.Microsecond)
	if !ts.Before(r.PositionAt) {
		pos := c.Interval.clip(c.VideoDuration).End
		if c.LastPosition != nil {
			pos = math.Min(*c.LastPosition, c.VideoDuration)
		}
		out.LastPosition = pos
		out.PositionAt = ts
	} else {
		out.LastPosition = math.Min(r.LastPosition, c.VideoDuration)
	}
	out.UpdatedAt = now.UTC()
	return out, nil
}

// Recompute refreshes the derived fields from the stored intervals and
// duration. Records read from storage pass through it.
func (r Record) Recompute() Record {
	r.WatchedIntervals = Normalize(r.WatchedIntervals, r.VideoDuration)
	r.TotalProgress = 0
	if pct, err := Percentage(r.WatchedIntervals, r.VideoDuration); err == nil {
		r.TotalProgress = pct
	}
	r.Completed = r.TotalProgress >= CompletedThreshold
	return r
}

// Verify checks the set invariants and that the cached percentage matches a
// fresh recomputation.
func (r Record) Verify() error {
	if err := r.WatchedIntervals.Validate(r.VideoDuration); err != nil {
		return err
	}
	if r.LastPosition < 0 {
		return fmt.Errorf("negative last position %.3f", r.LastPosition)
	}
	if r.TotalProgress < 0 || r.TotalProgress > 100 {
		return fmt.Errorf("total progress %.3f outside [0,100]", r.TotalProgress)
	}
	want := 0.0
	if r.VideoDuration > 0 {
		pct, err := Percentage(r.WatchedIntervals, r.VideoDuration)
		if err != nil {
			return err
		}
		want = pct
	} else if len(r.WatchedIntervals) > 0 {
		return ErrInvalidDuration
	}
	if math.Abs(want-r.TotalProgress) > progressEpsilon {
		return fmt.Errorf("cached total progress %.6f disagrees with recomputed %.6f", r.TotalProgress, want)
	}
	return nil
}
