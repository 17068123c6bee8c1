package analytics

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
)

type fakeJS struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJS) PublishAsync(subj string, data []byte, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil, nil
}

func TestPublish_Envelope(t *testing.T) {
	js := &fakeJS{}
	p := New(js, nil)
	p.Publish(SubjectProgressCommitted, "progress_committed", "user-1", map[string]any{"video_id": "v1"})

	if len(js.subjects) != 1 || js.subjects[0] != SubjectProgressCommitted {
		t.Fatalf("unexpected subjects %v", js.subjects)
	}
	var ev Event
	if err := json.Unmarshal(js.payloads[0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventID == "" || ev.EventName != "progress_committed" || ev.UserID != "user-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Properties["video_id"] != "v1" {
		t.Fatalf("unexpected properties %v", ev.Properties)
	}
}

func TestPublish_NilSafe(t *testing.T) {
	var p *Publisher
	p.Publish(SubjectProgressCompleted, "x", "", nil)
	New(nil, nil).Publish(SubjectProgressCompleted, "x", "", nil)
}

func TestPublish_ErrorSwallowed(t *testing.T) {
	js := &fakeJS{err: errors.New("no responders")}
	New(js, nil).Publish(SubjectProgressCompleted, "x", "", nil)
	if len(js.subjects) != 0 {
		t.Fatal("expected nothing recorded")
	}
}
