package playback

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/course-platform/internal/progress"
)

// ─── doubles ──────────────────────────────────────────────────────────────────

type fakeStore struct {
	mu       sync.Mutex
	rec      progress.Record
	fetchErr error
	// failCommits makes the next n commits fail.
	failCommits int
	delay       time.Duration
	commits     []progress.Commit

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeStore) FetchProgress(_ context.Context, videoID string) (progress.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return progress.Record{}, f.fetchErr
	}
	if f.rec.VideoID == "" {
		return progress.NewRecord("u-1", videoID), nil
	}
	return f.rec, nil
}

func (f *fakeStore) CommitProgress(_ context.Context, videoID string, c progress.Commit) (progress.Record, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, c)
	if f.failCommits > 0 {
		f.failCommits--
		return progress.Record{}, errors.New("store unavailable")
	}
	if f.rec.VideoID == "" {
		f.rec = progress.NewRecord("u-1", videoID)
	}
	next, err := f.rec.Apply(c, time.Now().UTC())
	if err != nil {
		return progress.Record{}, err
	}
	f.rec = next
	return next, nil
}

func (f *fakeStore) calls() []progress.Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]progress.Commit(nil), f.commits...)
}

type fakePlayer struct {
	mu       sync.Mutex
	duration float64
	seeks    []float64
}

func (p *fakePlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, seconds)
}

func (p *fakePlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayer) setDuration(d float64) {
	p.mu.Lock()
	p.duration = d
	p.mu.Unlock()
}

// scriptedRecorder hands back fixed intervals, including malformed ones a real
// recorder never produces.
type scriptedRecorder struct {
	out []progress.Interval
}

func (r *scriptedRecorder) Observe(float64) bool { return false }
func (r *scriptedRecorder) Reset()               {}
func (r *scriptedRecorder) LastPosition() (float64, bool) {
	return 0, false
}
func (r *scriptedRecorder) Drain() []progress.Interval {
	out := r.out
	r.out = nil
	return out
}
func (r *scriptedRecorder) DrainClosed() []progress.Interval { return r.Drain() }
func (r *scriptedRecorder) Checkpoint() []progress.Interval  { return r.Drain() }

func unthrottled() *progress.Recorder {
	return progress.NewRecorder(progress.RecorderOptions{MinSampleGap: -1})
}

func newSession(store *fakeStore, player *fakePlayer, opts Options) *Session {
	if opts.Recorder == nil {
		opts.Recorder = unthrottled()
	}
	return NewSession("vid-1", store, player, opts)
}

func play(s *Session, from, to float64) {
	for p := from; p <= to; p++ {
		s.ReportSample(p)
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestSession_ScenarioE_UnloadMidPlayCommitsOnce(t *testing.T) {
	store := &fakeStore{}
	player := &fakePlayer{duration: 100}
	s := newSession(store, player, Options{})

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.PlayerReady()
	play(s, 5, 12)

	if err := s.Unload(context.Background()); err != nil {
		t.Fatalf("unload: %v", err)
	}
	calls := store.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one commit, got %d: %+v", len(calls), calls)
	}
	if calls[0].Interval != (progress.Interval{Start: 5, End: 12}) {
		t.Fatalf("expected {5,12}, got %v", calls[0].Interval)
	}
	rec := s.Record()
	if rec.LastPosition != 12 || rec.TotalProgress <= 0 {
		t.Fatalf("unexpected record %+v", rec)
	}

	snap := s.Snapshot()
	if snap.State != StateUnloaded || snap.ProgressPercent != rec.TotalProgress {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// Unload is terminal: nothing further is committed.
	s.ReportSample(13)
	_ = s.Unload(context.Background())
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush after unload: %v", err)
	}
	if len(store.calls()) != 1 {
		t.Fatalf("expected no commits after unload, got %d", len(store.calls()))
	}
}

func TestSession_SeeksToResumePointOnce(t *testing.T) {
	stored := progress.NewRecord("u-1", "vid-1")
	stored.LastPosition = 42
	store := &fakeStore{rec: stored}
	player := &fakePlayer{duration: 100}
	s := newSession(store, player, Options{})

	// Ready arrives first; the seek waits for the record.
	s.PlayerReady()
	if len(player.seeks) != 0 {
		t.Fatal("seek must wait for load")
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.PlayerReady()
	if !reflect.DeepEqual(player.seeks, []float64{42}) {
		t.Fatalf("expected a single seek to 42, got %v", player.seeks)
	}
	if got := s.Snapshot(); got.State != StateReady || got.LastPosition != 42 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestSession_NoSeekForFreshRecord(t *testing.T) {
	player := &fakePlayer{duration: 100}
	s := newSession(&fakeStore{}, player, Options{})
	_ = s.Load(context.Background())
	s.PlayerReady()
	if len(player.seeks) != 0 {
		t.Fatalf("unexpected seeks %v", player.seeks)
	}
}

func TestSession_FetchFailureStartsFresh(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("connection refused")}
	s := newSession(store, &fakePlayer{duration: 100}, Options{})

	err := s.Load(context.Background())
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateReady || snap.ProgressPercent != 0 || !errors.Is(snap.Err, ErrFetchFailed) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// Playback and commits still work.
	play(s, 0, 10)
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if snap := s.Snapshot(); snap.ProgressPercent != 10 || snap.Err != nil {
		t.Fatalf("unexpected snapshot after commit %+v", snap)
	}
}

func TestSession_SamplesBeforeLoadIgnored(t *testing.T) {
	store := &fakeStore{}
	s := newSession(store, &fakePlayer{duration: 100}, Options{})
	play(s, 0, 5)
	_ = s.Load(context.Background())
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if n := len(store.calls()); n != 0 {
		t.Fatalf("expected no commits, got %d", n)
	}
}

func TestSession_NotLoaded(t *testing.T) {
	s := newSession(&fakeStore{}, &fakePlayer{duration: 100}, Options{})
	if err := s.Pause(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("pause: expected ErrNotLoaded, got %v", err)
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("flush: expected ErrNotLoaded, got %v", err)
	}
	if err := s.Unload(context.Background()); err != nil {
		t.Fatalf("unload before load: %v", err)
	}
}

func TestSession_PauseCommitsAndReturnsToReady(t *testing.T) {
	store := &fakeStore{}
	s := newSession(store, &fakePlayer{duration: 100}, Options{})
	_ = s.Load(context.Background())

	play(s, 0, 10)
	if got := s.Snapshot().State; got != StatePlaying {
		t.Fatalf("expected playing, got %v", got)
	}
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateReady || snap.ProgressPercent != 10 || snap.LastPosition != 10 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// Resume after pause opens a fresh run.
	play(s, 10, 15)
	_ = s.Pause(context.Background())
	calls := store.calls()
	if len(calls) != 2 || calls[1].Interval != (progress.Interval{Start: 10, End: 15}) {
		t.Fatalf("unexpected commits %+v", calls)
	}
	if got := s.Snapshot().ProgressPercent; got != 15 {
		t.Fatalf("expected 15%%, got %v", got)
	}
}

// ─── failure handling ────────────────────────────────────────────────────────

func TestSession_CommitFailureRollsBackAndKeepsInterval(t *testing.T) {
	store := &fakeStore{failCommits: 1}
	s := newSession(store, &fakePlayer{duration: 100}, Options{})
	_ = s.Load(context.Background())

	play(s, 0, 10)
	err := s.Pause(context.Background())
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}
	snap := s.Snapshot()
	if snap.ProgressPercent != 0 || !errors.Is(snap.Err, ErrCommitFailed) {
		t.Fatalf("expected rollback to confirmed record, got %+v", snap)
	}

	play(s, 20, 30)
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	calls := store.calls()
	want := []progress.Interval{{Start: 0, End: 10}, {Start: 0, End: 10}, {Start: 20, End: 30}}
	if len(calls) != len(want) {
		t.Fatalf("expected %d attempts, got %+v", len(want), calls)
	}
	for i, c := range calls {
		if c.Interval != want[i] {
			t.Fatalf("attempt %d: expected %v, got %v", i, want[i], c.Interval)
		}
	}
	if snap := s.Snapshot(); snap.ProgressPercent != 20 || snap.Err != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSession_InvalidDurationPreservesIntervals(t *testing.T) {
	store := &fakeStore{}
	player := &fakePlayer{duration: 0}
	s := newSession(store, player, Options{})
	_ = s.Load(context.Background())

	play(s, 0, 8)
	if err := s.Pause(context.Background()); !errors.Is(err, progress.ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if n := len(store.calls()); n != 0 {
		t.Fatalf("no store call expected, got %d", n)
	}

	player.setDuration(80)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	calls := store.calls()
	if len(calls) != 1 || calls[0].Interval != (progress.Interval{Start: 0, End: 8}) || calls[0].VideoDuration != 80 {
		t.Fatalf("unexpected commits %+v", calls)
	}
	if got := s.Snapshot().ProgressPercent; got != 10 {
		t.Fatalf("expected 10%%, got %v", got)
	}
}

func TestSession_MalformedIntervalsNeverSent(t *testing.T) {
	store := &fakeStore{}
	rec := &scriptedRecorder{out: []progress.Interval{{Start: -1, End: 5}, {Start: 3, End: 2}, {Start: 4, End: 4}, {Start: 0, End: 4}}}
	s := newSession(store, &fakePlayer{duration: 40}, Options{Recorder: rec})
	_ = s.Load(context.Background())

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	calls := store.calls()
	if len(calls) != 1 || calls[0].Interval != (progress.Interval{Start: 0, End: 4}) {
		t.Fatalf("expected only {0,4} to be sent, got %+v", calls)
	}
}

// ─── concurrency ──────────────────────────────────────────────────────────────

func TestSession_SeekCommitsInBackground(t *testing.T) {
	store := &fakeStore{}
	s := newSession(store, &fakePlayer{duration: 100}, Options{})
	_ = s.Load(context.Background())

	play(s, 1, 3)
	s.ReportSample(50)
	if err := s.Unload(context.Background()); err != nil {
		t.Fatalf("unload: %v", err)
	}
	calls := store.calls()
	if len(calls) != 1 || calls[0].Interval != (progress.Interval{Start: 1, End: 3}) {
		t.Fatalf("expected the closed run {1,3} only, got %+v", calls)
	}
}

func TestSession_CommitsAreSerialized(t *testing.T) {
	store := &fakeStore{delay: 5 * time.Millisecond}
	s := newSession(store, &fakePlayer{duration: 1000}, Options{})
	_ = s.Load(context.Background())

	// Each jump closes a run and starts a background commit.
	for start := 0.0; start < 500; start += 50 {
		play(s, start, start+10)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Flush(context.Background())
		}()
	}
	wg.Wait()
	if err := s.Unload(context.Background()); err != nil {
		t.Fatalf("unload: %v", err)
	}

	if m := store.maxInflight.Load(); m != 1 {
		t.Fatalf("expected commits to be serialized, saw %d in flight", m)
	}
	if got := s.Record().WatchedIntervals; len(got) != 10 {
		t.Fatalf("expected 10 disjoint runs, got %v", got)
	}
	if got := s.Snapshot().ProgressPercent; got != 10 {
		t.Fatalf("expected 10%%, got %v", got)
	}
}

func TestSession_PeriodicFlush(t *testing.T) {
	store := &fakeStore{}
	s := newSession(store, &fakePlayer{duration: 100}, Options{FlushEvery: 5 * time.Millisecond})
	_ = s.Load(context.Background())
	play(s, 0, 4)

	deadline := time.Now().Add(2 * time.Second)
	for len(store.calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("periodic flush never committed")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Unload(context.Background()); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if got := s.Snapshot().ProgressPercent; got != 4 {
		t.Fatalf("expected 4%%, got %v", got)
	}
}

func TestSession_SnapshotTracksLivePosition(t *testing.T) {
	stored := progress.NewRecord("u-1", "vid-1")
	stored.VideoID, stored.LastPosition = "vid-1", 20
	store := &fakeStore{rec: stored}
	s := newSession(store, &fakePlayer{duration: 100}, Options{})
	_ = s.Load(context.Background())

	if got := s.Snapshot().LastPosition; got != 20 {
		t.Fatalf("expected stored position 20 before playing, got %v", got)
	}
	play(s, 20, 27)
	if got := s.Snapshot().LastPosition; got != 27 {
		t.Fatalf("expected live position 27 while playing, got %v", got)
	}
	if len(store.calls()) != 0 {
		t.Fatal("no commit expected while playing")
	}
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := s.Snapshot().LastPosition; got != 27 {
		t.Fatalf("expected confirmed position 27, got %v", got)
	}
}
