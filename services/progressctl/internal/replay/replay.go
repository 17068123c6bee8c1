// Package replay drives a playback.Session from a YAML script against a
// simulated player. It is used to exercise a deployed stack end to end.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/example/course-platform/internal/playback"
	"github.com/example/course-platform/internal/progress"
)

const (
	ActionLoad   = "load"
	ActionReady  = "ready"
	ActionPlay   = "play"
	ActionPause  = "pause"
	ActionFlush  = "flush"
	ActionUnload = "unload"
)

// Script is a recorded viewing session.
//
//	video: intro-101
//	duration: 120
//	steps:
//	  - action: load
//	  - action: ready
//	  - action: play
//	    from: 0
//	    to: 30
//	  - action: pause
//	  - action: unload
type Script struct {
	Video      string        `yaml:"video"`
	Duration   float64       `yaml:"duration"`
	FlushEvery time.Duration `yaml:"flush_every"`
	Steps      []Step        `yaml:"steps"`
}

// Step is one player event. Play emits a sample every Step seconds (default 1)
// from From to To inclusive.
type Step struct {
	Action string  `yaml:"action"`
	From   float64 `yaml:"from"`
	To     float64 `yaml:"to"`
	Step   float64 `yaml:"step"`
}

// Result summarizes a replay.
type Result struct {
	Video           string    `json:"video"`
	State           string    `json:"state"`
	ProgressPercent float64   `json:"progressPercent"`
	LastPosition    float64   `json:"lastPosition"`
	Seeks           []float64 `json:"seeks,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
}

// Load reads and validates a script file.
func Load(path string) (Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return Script{}, err
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

func (s Script) Validate() error {
	if strings.TrimSpace(s.Video) == "" {
		return errors.New("script: video is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("script: no steps")
	}
	for i, st := range s.Steps {
		switch st.Action {
		case ActionLoad, ActionReady, ActionPause, ActionFlush, ActionUnload:
		case ActionPlay:
			if st.To < st.From {
				return fmt.Errorf("script: step %d: play to %.3f before from %.3f", i, st.To, st.From)
			}
			if st.Step < 0 {
				return fmt.Errorf("script: step %d: negative step", i)
			}
		default:
			return fmt.Errorf("script: step %d: unknown action %q", i, st.Action)
		}
	}
	return nil
}

// simPlayer is a player whose clock advances only when samples are emitted.
type simPlayer struct {
	mu       sync.Mutex
	duration float64
	seeks    []float64
	now      time.Time
}

func (p *simPlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, seconds)
}

func (p *simPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *simPlayer) advance(d time.Duration) {
	p.mu.Lock()
	p.now = p.now.Add(d)
	p.mu.Unlock()
}

func (p *simPlayer) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Run replays s against store. Session errors are collected in the result;
// only a cancelled context aborts the run.
func Run(ctx context.Context, s Script, store playback.Store, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	player := &simPlayer{duration: s.Duration, now: time.Unix(0, 0).UTC()}
	rec := progress.NewRecorder(progress.RecorderOptions{Now: player.Now})
	sess := playback.NewSession(s.Video, store, player, playback.Options{
		Recorder:   rec,
		FlushEvery: s.FlushEvery,
		Logger:     log,
	})

	var errs []string
	note := func(action string, err error) {
		if err != nil {
			errs = append(errs, action+": "+err.Error())
		}
	}

	for _, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			_ = sess.Unload(context.Background())
			return Result{}, err
		}
		switch st.Action {
		case ActionLoad:
			note(st.Action, sess.Load(ctx))
		case ActionReady:
			sess.PlayerReady()
		case ActionPlay:
			step := st.Step
			if step == 0 {
				step = 1
			}
			for pos := st.From; pos <= st.To; pos += step {
				player.advance(time.Duration(step * float64(time.Second)))
				sess.ReportSample(pos)
			}
		case ActionPause:
			note(st.Action, sess.Pause(ctx))
		case ActionFlush:
			note(st.Action, sess.Flush(ctx))
		case ActionUnload:
			note(st.Action, sess.Unload(ctx))
		}
		log.Debug("replay step", zap.String("action", st.Action), zap.Float64("from", st.From), zap.Float64("to", st.To))
	}
	// A script that forgets to unload still flushes.
	note(ActionUnload, sess.Unload(ctx))

	snap := sess.Snapshot()
	player.mu.Lock()
	seeks := append([]float64(nil), player.seeks...)
	player.mu.Unlock()
	return Result{
		Video:           s.Video,
		State:           snap.State.String(),
		ProgressPercent: snap.ProgressPercent,
		LastPosition:    snap.LastPosition,
		Seeks:           seeks,
		Errors:          errs,
	}, nil
}
