// Package progress implements watch-progress tracking: recording continuously
// played spans, coalescing them into a minimal coverage set, and deriving the
// percentage of a video that has been watched.
//
// The package does no I/O. The same code runs in the playback client (for
// optimistic display) and in the progress service (as the authoritative merge).
package progress

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedInterval is returned for negative, inverted or non-finite intervals.
	ErrMalformedInterval = errors.New("malformed interval")
	// ErrInvalidDuration is returned when a video duration is unknown, zero or negative.
	ErrInvalidDuration = errors.New("invalid video duration")
)

// Interval is a continuously watched span, in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Len returns End-Start, or 0 for degenerate intervals.
func (i Interval) Len() float64 {
	if i.End <= i.Start {
		return 0
	}
	return i.End - i.Start
}

// Degenerate reports whether the interval covers no time.
func (i Interval) Degenerate() bool {
	return !(i.End > i.Start)
}

// Validate rejects intervals that must never reach a Store.
func (i Interval) Validate() error {
	if !finite(i.Start) || !finite(i.End) {
		return fmt.Errorf("%w: non-finite bounds", ErrMalformedInterval)
	}
	if i.Start < 0 {
		return fmt.Errorf("%w: negative start %.3f", ErrMalformedInterval, i.Start)
	}
	if i.End < i.Start {
		return fmt.Errorf("%w: end %.3f before start %.3f", ErrMalformedInterval, i.End, i.Start)
	}
	return nil
}

// clip bounds the interval to [0, duration]. A non-positive duration leaves
// the upper bound open.
func (i Interval) clip(duration float64) Interval {
	if i.Start < 0 {
		i.Start = 0
	}
	if duration > 0 && finite(duration) {
		if i.End > duration {
			i.End = duration
		}
		if i.Start > duration {
			i.Start = duration
		}
	}
	return i
}

// WatchedSet is a sorted sequence of non-overlapping, non-touching intervals.
type WatchedSet []Interval

// Validate checks the set invariants: every interval well formed and inside
// [0, duration], sorted by start, and set[i].End < set[i+1].Start strictly.
// A non-positive duration skips the upper-bound check.
func (s WatchedSet) Validate(duration float64) error {
	for i, iv := range s {
		if err := iv.Validate(); err != nil {
			return fmt.Errorf("interval %d: %w", i, err)
		}
		if iv.Degenerate() {
			return fmt.Errorf("interval %d: %w: empty", i, ErrMalformedInterval)
		}
		if duration > 0 && iv.End > duration {
			return fmt.Errorf("interval %d: %w: end %.3f beyond duration %.3f", i, ErrMalformedInterval, iv.End, duration)
		}
		if i > 0 && !(s[i-1].End < iv.Start) {
			return fmt.Errorf("intervals %d and %d overlap or touch", i-1, i)
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with s.
func (s WatchedSet) Clone() WatchedSet {
	if s == nil {
		return WatchedSet{}
	}
	out := make(WatchedSet, len(s))
	copy(out, s)
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
