package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/progress"
	"github.com/example/course-platform/services/progress/internal/store"
	"github.com/example/course-platform/services/progress/internal/tracker"
)

type flakyCommitter struct {
	err   error
	calls int
}

func (f *flakyCommitter) Commit(context.Context, string, string, string, progress.Commit) (progress.Record, error) {
	f.calls++
	return progress.Record{}, f.err
}

func payload(t *testing.T, ev progressv1.BeaconEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestProcess_AppliesBeacon(t *testing.T) {
	repo := store.NewMemory()
	w := NewBeaconConsumer(tracker.New(repo, nil, nil), Options{})
	ev := progressv1.BeaconEvent{
		EventID: "e1", UserID: "u1", VideoID: "v1",
		Interval: progress.Interval{Start: 5, End: 12}, VideoDuration: 100,
		CreatedAt: time.Now().UTC(),
	}
	if got := w.process(context.Background(), payload(t, ev)); got != ack {
		t.Fatalf("expected ack, got %v", got)
	}
	// Redelivery leaves coverage unchanged.
	if got := w.process(context.Background(), payload(t, ev)); got != ack {
		t.Fatalf("expected ack on redelivery, got %v", got)
	}
	rec, err := repo.Get(context.Background(), "u1", "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.TotalProgress != 7 || len(rec.WatchedIntervals) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestProcess_Outcomes(t *testing.T) {
	good := progressv1.BeaconEvent{UserID: "u1", VideoID: "v1", Interval: progress.Interval{Start: 0, End: 1}, VideoDuration: 10}
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		err  error
		want outcome
	}{
		{"bad json", func(*testing.T) []byte { return []byte("{not json") }, nil, term},
		{"malformed", func(t *testing.T) []byte { return payload(t, good) }, progress.ErrMalformedInterval, term},
		{"bad id", func(t *testing.T) []byte { return payload(t, good) }, tracker.ErrInvalidID, term},
		{"store down", func(t *testing.T) []byte { return payload(t, good) }, errors.New("connection refused"), nak},
		{"ok", func(t *testing.T) []byte { return payload(t, good) }, nil, ack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &flakyCommitter{err: tt.err}
			if got := NewBeaconConsumer(c, Options{}).process(context.Background(), tt.data(t)); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewBeaconConsumer_Defaults(t *testing.T) {
	w := NewBeaconConsumer(&flakyCommitter{}, Options{})
	if w.opts.BatchSize != 100 || w.opts.BatchInterval != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", w.opts)
	}
}

func TestProcess_RedeliveryKeepsNewerPosition(t *testing.T) {
	repo := store.NewMemory()
	trk := tracker.New(repo, nil, nil)
	w := NewBeaconConsumer(trk, Options{})
	ctx := context.Background()

	sent := time.Now().UTC().Add(-time.Minute)
	beaconPos := 100.0
	ev := progressv1.BeaconEvent{
		EventID: "e1", UserID: "u1", VideoID: "v1",
		Interval: progress.Interval{Start: 0, End: 100}, VideoDuration: 600,
		LastPosition: &beaconPos, CreatedAt: sent,
	}
	if got := w.process(ctx, payload(t, ev)); got != ack {
		t.Fatalf("expected ack, got %v", got)
	}

	rpcPos := 300.0
	if _, err := trk.Commit(ctx, tracker.SourceRPC, "u1", "v1", progress.Commit{
		Interval: progress.Interval{Start: 250, End: 300}, VideoDuration: 600,
		LastPosition: &rpcPos, ClientTS: sent.Add(30 * time.Second),
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if got := w.process(ctx, payload(t, ev)); got != ack {
		t.Fatalf("expected ack on redelivery, got %v", got)
	}
	rec, err := repo.Get(ctx, "u1", "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.LastPosition != 300 {
		t.Fatalf("redelivered beacon rewound last position to %v", rec.LastPosition)
	}
	if len(rec.WatchedIntervals) != 2 {
		t.Fatalf("unexpected intervals %v", rec.WatchedIntervals)
	}
}
