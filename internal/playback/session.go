// Package playback drives watch-progress tracking for one video view: it
// loads the stored record, seeks the player to the resume point, feeds player
// samples into a Recorder and commits finished runs to a Store.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/course-platform/internal/progress"
)

var (
	// ErrFetchFailed wraps a failed initial load. The session continues from a zero record.
	ErrFetchFailed = errors.New("fetch progress failed")
	// ErrCommitFailed wraps a failed Store commit. The interval is kept for the next commit.
	ErrCommitFailed = errors.New("commit progress failed")
	// ErrNotLoaded is returned by commit entry points called before Load.
	ErrNotLoaded = errors.New("session not loaded")
)

const defaultCommitTimeout = 10 * time.Second

// Store persists progress. CommitProgress merges against the durable copy and
// returns the full updated record.
type Store interface {
	FetchProgress(ctx context.Context, videoID string) (progress.Record, error)
	CommitProgress(ctx context.Context, videoID string, c progress.Commit) (progress.Record, error)
}

// Player is the part of a video player the session controls.
type Player interface {
	SeekTo(seconds float64)
	Duration() float64
}

// Recorder is satisfied by *progress.Recorder.
type Recorder interface {
	Observe(playedSeconds float64) bool
	Drain() []progress.Interval
	DrainClosed() []progress.Interval
	Checkpoint() []progress.Interval
	Reset()
	LastPosition() (float64, bool)
}

type Options struct {
	// Recorder defaults to progress.NewRecorder with default options.
	Recorder Recorder
	// FlushEvery enables a periodic safety commit while playing. Zero disables it.
	FlushEvery time.Duration
	// CommitTimeout bounds background commits. Defaults to 10s.
	CommitTimeout time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Snapshot is the display state of a session.
type Snapshot struct {
	ProgressPercent float64
	LastPosition    float64
	State           State
	Err             error
}

// Session is the controller for one view of one video. It is safe for
// concurrent use by player callbacks and the flush ticker.
type Session struct {
	videoID       string
	store         Store
	player        Player
	rec           Recorder
	log           *zap.Logger
	now           func() time.Time
	flushEvery    time.Duration
	commitTimeout time.Duration

	mu          sync.Mutex
	state       State
	loaded      bool
	playerReady bool
	seeked      bool
	confirmed   progress.Record
	view        progress.Record
	lastErr     error
	stopTick    chan struct{}
	// samples counts accepted samples; confirmedSamples is the count covered
	// by the last confirmed commit. Snapshot reports the live position while
	// samples is ahead.
	samples          uint64
	confirmedSamples uint64

	// commitMu serializes commits; unsent is guarded by it.
	commitMu sync.Mutex
	unsent   []progress.Interval

	bg sync.WaitGroup
}

func NewSession(videoID string, store Store, player Player, opts Options) *Session {
	if opts.Recorder == nil {
		opts.Recorder = progress.NewRecorder(progress.RecorderOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	zero := progress.NewRecord("", videoID)
	return &Session{
		videoID:       videoID,
		store:         store,
		player:        player,
		rec:           opts.Recorder,
		log:           opts.Logger.With(zap.String("video_id", videoID)),
		now:           opts.Now,
		flushEvery:    opts.FlushEvery,
		commitTimeout: opts.CommitTimeout,
		state:         StateLoading,
		confirmed:     zero,
		view:          zero,
	}
}

// Load fetches the stored record and enters Ready. A fetch failure is not
// fatal: the session starts from a zero record and the returned error wraps
// ErrFetchFailed. Calling Load again is a no-op.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	rec, fetchErr := s.store.FetchProgress(ctx, s.videoID)

	s.mu.Lock()
	if s.state != StateLoading {
		// Unloaded while fetching.
		s.mu.Unlock()
		return nil
	}
	if fetchErr != nil {
		fetchErr = fmt.Errorf("%w: %w", ErrFetchFailed, fetchErr)
		s.lastErr = fetchErr
		s.log.Warn("progress fetch failed, starting fresh", zap.Error(fetchErr))
	} else {
		s.confirmed, s.view = rec, rec
	}
	s.loaded = true
	s.state = StateReady
	target, seek := s.seekTargetLocked()
	s.mu.Unlock()

	if seek {
		s.player.SeekTo(target)
	}
	return fetchErr
}

// PlayerReady records that the player accepts seeks. The resume seek runs
// once, now or as soon as Load completes.
func (s *Session) PlayerReady() {
	s.mu.Lock()
	s.playerReady = true
	target, seek := s.seekTargetLocked()
	s.mu.Unlock()

	if seek {
		s.player.SeekTo(target)
	}
}

func (s *Session) seekTargetLocked() (float64, bool) {
	if !s.loaded || !s.playerReady || s.seeked || s.state == StateUnloaded {
		return 0, false
	}
	s.seeked = true
	pos := s.confirmed.LastPosition
	return pos, pos > 0
}

// ReportSample feeds one player position. Samples before Load completes or
// after Unload are ignored. A seek discontinuity commits the closed run in
// the background while the new run stays open.
func (s *Session) ReportSample(seconds float64) {
	s.mu.Lock()
	if !s.loaded || s.state == StateUnloaded {
		s.mu.Unlock()
		return
	}
	s.state = StatePlaying
	s.samples++
	s.startTickerLocked()
	s.mu.Unlock()

	if s.rec.Observe(seconds) {
		s.commitAsync()
	}
}

// Pause closes the current run and commits it synchronously.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.state == StateUnloaded {
		s.mu.Unlock()
		return nil
	}
	s.state = StatePaused
	s.rec.Reset()
	s.state = StateCommitting
	s.mu.Unlock()

	err := s.commit(ctx, s.rec.Drain)

	s.mu.Lock()
	if s.state == StateCommitting {
		s.state = StateReady
	}
	s.mu.Unlock()
	return err
}

// Flush commits everything pending without leaving the current state. The
// open run is checkpointed and keeps growing.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	loaded, unloaded := s.loaded, s.state == StateUnloaded
	s.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}
	if unloaded {
		return nil
	}
	return s.commit(ctx, s.rec.Checkpoint)
}

// Unload ends the session: it stops the flush ticker, makes one final commit
// attempt for anything pending and waits for background commits. Later calls
// are no-ops.
func (s *Session) Unload(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnloaded {
		s.mu.Unlock()
		return nil
	}
	loaded := s.loaded
	s.state = StateUnloaded
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
	s.mu.Unlock()

	var err error
	if loaded {
		s.rec.Reset()
		err = s.commit(ctx, s.rec.Drain)
	}
	s.bg.Wait()
	return err
}

// Snapshot returns the current display state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.view.LastPosition
	if s.samples > s.confirmedSamples {
		if live, ok := s.rec.LastPosition(); ok {
			pos = live
		}
	}
	return Snapshot{
		ProgressPercent: s.view.TotalProgress,
		LastPosition:    pos,
		State:           s.state,
		Err:             s.lastErr,
	}
}

// Record returns the last record confirmed by the Store.
func (s *Session) Record() progress.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// commitAsync must not be called with s.mu held.
func (s *Session) commitAsync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnloaded {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.commitTimeout)
		defer cancel()
		_ = s.commit(ctx, s.rec.DrainClosed)
	}()
}

func (s *Session) startTickerLocked() {
	if s.flushEvery <= 0 || s.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	s.stopTick = stop
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		t := time.NewTicker(s.flushEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.commitTimeout)
				_ = s.Flush(ctx)
				cancel()
			}
		}
	}()
}

// commit moves what take returns into the unsent queue and sends the queue in
// order. The first failure stops the loop; the failed interval stays queued.
func (s *Session) commit(ctx context.Context, take func() []progress.Interval) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for _, iv := range take() {
		if err := iv.Validate(); err != nil {
			s.log.Debug("dropping malformed interval", zap.Float64("start", iv.Start), zap.Float64("end", iv.End), zap.Error(err))
			continue
		}
		if iv.Degenerate() {
			continue
		}
		s.unsent = append(s.unsent, iv)
	}
	if len(s.unsent) == 0 {
		return nil
	}

	duration := s.player.Duration()
	if !(duration > 0) || math.IsInf(duration, 0) {
		err := fmt.Errorf("%w: player reported %v", progress.ErrInvalidDuration, duration)
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	seen := s.samples
	s.mu.Unlock()
	pos, hasPos := s.rec.LastPosition()
	for len(s.unsent) > 0 {
		c := progress.Commit{Interval: s.unsent[0], VideoDuration: duration, ClientTS: s.now()}
		if len(s.unsent) == 1 && hasPos {
			c.LastPosition = &pos
		}

		s.mu.Lock()
		if optimistic, err := s.view.Apply(c, s.now()); err == nil {
			s.view = optimistic
		}
		s.mu.Unlock()

		rec, err := s.store.CommitProgress(ctx, s.videoID, c)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrCommitFailed, err)
			s.mu.Lock()
			s.view = s.confirmed
			s.lastErr = err
			s.mu.Unlock()
			s.log.Warn("progress commit failed",
				zap.Float64("start", c.Interval.Start),
				zap.Float64("end", c.Interval.End),
				zap.Int("queued", len(s.unsent)),
				zap.Error(err),
			)
			return err
		}

		s.unsent = s.unsent[1:]
		s.mu.Lock()
		s.confirmed, s.view = rec, rec
		s.lastErr = nil
		if len(s.unsent) == 0 && hasPos && seen > s.confirmedSamples {
			s.confirmedSamples = seen
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
