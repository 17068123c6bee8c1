package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/platform/natsconn"
	"github.com/example/course-platform/internal/progress"
	"github.com/example/course-platform/services/progress/internal/tracker"
)

// Committer applies one commit. *tracker.Tracker satisfies it.
type Committer interface {
	Commit(ctx context.Context, source, userID, videoID string, c progress.Commit) (progress.Record, error)
}

// Options tunes batch fetching.
type Options struct {
	BatchSize     int
	BatchInterval time.Duration
	Logger        *zap.Logger
}

type outcome int

const (
	ack outcome = iota
	nak
	term
)

// nakDelay spaces redeliveries of events that failed on a store error.
const nakDelay = 2 * time.Second

// BeaconConsumer drains progress.commit with a durable pull subscription.
type BeaconConsumer struct {
	commits Committer
	opts    Options
	log     *zap.Logger
}

func NewBeaconConsumer(c Committer, opts Options) *BeaconConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &BeaconConsumer{commits: c, opts: opts, log: log.With(zap.String("component", "beacon_consumer"))}
}

// Start ensures the stream, subscribes and runs the fetch loop in a goroutine
// until ctx is done.
func (w *BeaconConsumer) Start(ctx context.Context, nc *nats.Conn) error {
	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	if err := natsconn.EnsureStream(js, progressv1.BeaconStream, progressv1.BeaconSubjects); err != nil {
		return err
	}
	sub, err := js.PullSubscribe(progressv1.BeaconSubject, progressv1.BeaconDurable)
	if err != nil {
		return err
	}
	go w.loop(ctx, sub)
	return nil
}

func (w *BeaconConsumer) loop(ctx context.Context, sub *nats.Subscription) {
	defer func() { _ = sub.Drain() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fctx, cancel := context.WithTimeout(ctx, w.opts.BatchInterval)
		msgs, err := sub.Fetch(w.opts.BatchSize, nats.Context(fctx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Warn("fetch failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			w.settle(m, w.process(ctx, m.Data))
		}
	}
}

func (w *BeaconConsumer) settle(m *nats.Msg, o outcome) {
	var err error
	switch o {
	case ack:
		err = m.Ack()
	case nak:
		err = m.NakWithDelay(nakDelay)
	case term:
		err = m.Term()
	}
	if err != nil {
		w.log.Warn("settle failed", zap.Int("outcome", int(o)), zap.Error(err))
	}
}

// process applies one payload and reports how the message must be settled.
// Merges are idempotent, so redelivery after a lost ack is harmless.
func (w *BeaconConsumer) process(ctx context.Context, data []byte) outcome {
	var ev progressv1.BeaconEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		w.log.Warn("invalid beacon payload", zap.Error(err))
		return term
	}
	_, err := w.commits.Commit(ctx, tracker.SourceBeacon, ev.UserID, ev.VideoID, ev.Commit())
	switch {
	case err == nil:
		return ack
	case errors.Is(err, progress.ErrMalformedInterval),
		errors.Is(err, progress.ErrInvalidDuration),
		errors.Is(err, tracker.ErrInvalidID):
		w.log.Warn("beacon rejected", zap.String("event_id", ev.EventID), zap.Error(err))
		return term
	default:
		w.log.Error("beacon commit failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return nak
	}
}
