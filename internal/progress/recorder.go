package progress

import (
	"sync"
	"time"
)

const (
	// DefaultSeekTolerance is the largest forward step between two samples
	// that still counts as continuous playback.
	DefaultSeekTolerance = 3.0
	// DefaultMinSampleGap throttles continuing samples, matching a player that
	// reports progress about once per second.
	DefaultMinSampleGap = time.Second
)

// RecorderOptions tunes a Recorder. Zero values select the defaults.
type RecorderOptions struct {
	SeekTolerance float64
	// MinSampleGap drops continuing samples that arrive sooner than this after
	// the last accepted one. Negative disables throttling.
	MinSampleGap time.Duration
	Now          func() time.Time
}

// Recorder turns a stream of playback positions into closed intervals, one
// per continuous play run. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	tolerance float64
	minGap    time.Duration
	now       func() time.Time

	pending   *Interval
	finalized []Interval
	lastAt    time.Time
	lastPos   float64
	seen      bool
}

// NewRecorder returns a Recorder with no open run.
func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.SeekTolerance <= 0 {
		opts.SeekTolerance = DefaultSeekTolerance
	}
	if opts.MinSampleGap == 0 {
		opts.MinSampleGap = DefaultMinSampleGap
	}
	if opts.MinSampleGap < 0 {
		opts.MinSampleGap = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{tolerance: opts.SeekTolerance, minGap: opts.MinSampleGap, now: opts.Now}
}

// Observe feeds one playback position. It reports true when the sample was a
// discontinuity (a seek) that closed the previous run.
func (r *Recorder) Observe(playedSeconds float64) bool {
	if !finite(playedSeconds) || playedSeconds < 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.pending == nil {
		r.open(playedSeconds, now)
		return false
	}

	step := playedSeconds - r.pending.End
	if step >= 0 && step <= r.tolerance {
		r.lastPos = playedSeconds
		if r.minGap > 0 && now.Sub(r.lastAt) < r.minGap {
			return false
		}
		r.pending.End = playedSeconds
		r.lastAt = now
		r.lastPos = playedSeconds
		return false
	}

	closed := r.finalize()
	r.open(playedSeconds, now)
	return closed
}

// TakePending returns and clears the oldest closed run, or the open run when
// no closed run is waiting.
func (r *Recorder) TakePending() (Interval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.finalized) > 0 {
		iv := r.finalized[0]
		r.finalized = r.finalized[1:]
		return iv, true
	}
	if r.pending == nil {
		return Interval{}, false
	}
	r.settle()
	iv := *r.pending
	r.pending = nil
	if iv.Degenerate() {
		return Interval{}, false
	}
	return iv, true
}

// Drain takes every closed run and the open run, oldest first.
func (r *Recorder) Drain() []Interval {
	var out []Interval
	for {
		iv, ok := r.TakePending()
		if !ok {
			return out
		}
		out = append(out, iv)
	}
}

// DrainClosed takes only the runs already closed by a seek, oldest first.
// The open run keeps growing.
func (r *Recorder) DrainClosed() []Interval {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.finalized
	r.finalized = nil
	return out
}

// Checkpoint takes every closed run plus a copy of the open run. The open run
// restarts at its current end, so later samples extend it without a gap.
func (r *Recorder) Checkpoint() []Interval {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.finalized
	r.finalized = nil
	r.settle()
	if r.pending != nil && !r.pending.Degenerate() {
		out = append(out, *r.pending)
		r.pending = &Interval{Start: r.pending.End, End: r.pending.End}
	}
	return out
}

// Reset closes the open run so the next sample starts a new one. A closed run
// with any length is kept for the next TakePending.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalize()
}

// LastPosition is the most recent accepted sample.
func (r *Recorder) LastPosition() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPos, r.seen
}

// HasPending reports whether anything is waiting to be taken.
func (r *Recorder) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finalized) > 0 || (r.pending != nil && r.lastPos > r.pending.Start)
}

func (r *Recorder) open(at float64, now time.Time) {
	r.pending = &Interval{Start: at, End: at}
	r.lastAt = now
	r.lastPos = at
	r.seen = true
}

// settle extends the open run to the last sample, which may have been
// throttled. While a run is open lastPos belongs to it and is >= its End.
func (r *Recorder) settle() {
	if r.pending != nil && r.lastPos > r.pending.End {
		r.pending.End = r.lastPos
	}
}

func (r *Recorder) finalize() bool {
	if r.pending == nil {
		return false
	}
	r.settle()
	iv := *r.pending
	r.pending = nil
	if iv.Degenerate() {
		return false
	}
	r.finalized = append(r.finalized, iv)
	return true
}
