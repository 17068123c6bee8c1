// Package natsconn provides a shared NATS connection factory with
// configurable reconnect behaviour and fail-fast semantics.
package natsconn

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/course-platform/internal/platform/config"
)

// Options configures the NATS connection behaviour.
// Zero values fall back to env vars or built-in defaults.
type Options struct {
	URL           string
	Name          string
	MaxReconnects int           // default from NATS_MAX_RECONNECTS or 5
	ReconnectWait time.Duration // default from NATS_RECONNECT_WAIT or 2s
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = config.String("NATS_URL", "nats://nats:4222")
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = config.Int("NATS_MAX_RECONNECTS", 5)
	}
	if o.ReconnectWait == 0 {
		o.ReconnectWait = config.Duration("NATS_RECONNECT_WAIT", 2*time.Second)
	}
	return o
}

// Connect establishes a NATS connection with the configured retry policy.
// On failure after all retries it returns an error so the caller can fail-fast.
func Connect(opts Options) (*nats.Conn, error) {
	opts = opts.withDefaults()
	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

// EnsureStream creates the stream when it does not exist yet. An existing
// stream is left as configured.
func EnsureStream(js nats.JetStreamContext, name string, subjects ...string) error {
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}
