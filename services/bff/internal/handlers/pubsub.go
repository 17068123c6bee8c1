package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	progressv1 "github.com/example/course-platform/api/progress/v1"
)

var ErrAsyncPublishDisabled = errors.New("async publish is disabled")

// JetStreamPublisher is the subset of nats.JetStreamContext used here.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type EventPublisher struct {
	js          JetStreamPublisher
	asyncWrites bool
	now         func() time.Time
}

func NewEventPublisher(js JetStreamPublisher, asyncWrites bool) *EventPublisher {
	return &EventPublisher{js: js, asyncWrites: asyncWrites, now: time.Now}
}

func (p *EventPublisher) Enabled() bool {
	return p != nil && p.js != nil && p.asyncWrites
}

// PublishBeacon stamps ev with a fresh event id and publishes it. The id doubles
// as the JetStream message id so a retried publish is deduplicated.
func (p *EventPublisher) PublishBeacon(ev progressv1.BeaconEvent) (string, error) {
	if !p.Enabled() {
		return "", ErrAsyncPublishDisabled
	}

	ev.EventID = uuid.NewString()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = p.now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	if _, err := p.js.Publish(progressv1.BeaconSubject, body, nats.MsgId(ev.EventID)); err != nil {
		return "", err
	}
	return ev.EventID, nil
}
