package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/platform/api"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/progress"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ─── stubs ────────────────────────────────────────────────────────────────────

type stubProgressClient struct {
	progressv1.ProgressServiceClient

	getFn    func(ctx context.Context, in *progressv1.GetProgressRequest) (*progressv1.ProgressResponse, error)
	commitFn func(ctx context.Context, in *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error)
	listFn   func(ctx context.Context, in *progressv1.ListProgressRequest) (*progressv1.ListProgressResponse, error)
}

func (s *stubProgressClient) GetProgress(ctx context.Context, in *progressv1.GetProgressRequest, _ ...grpc.CallOption) (*progressv1.ProgressResponse, error) {
	return s.getFn(ctx, in)
}

func (s *stubProgressClient) CommitProgress(ctx context.Context, in *progressv1.CommitProgressRequest, _ ...grpc.CallOption) (*progressv1.ProgressResponse, error) {
	return s.commitFn(ctx, in)
}

func (s *stubProgressClient) ListProgress(ctx context.Context, in *progressv1.ListProgressRequest, _ ...grpc.CallOption) (*progressv1.ListProgressResponse, error) {
	return s.listFn(ctx, in)
}

type fakeJetStream struct {
	subject string
	data    []byte
	msgID   string
	err     error
}

func (f *fakeJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subj
	f.data = data
	// MsgId is applied through an opaque option; record that one was passed.
	if len(opts) > 0 {
		f.msgID = "set"
	}
	return &nats.PubAck{Stream: progressv1.BeaconStream}, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func newTestRouter(h *ProgressHandlers, uid string) chi.Router {
	r := chi.NewRouter()
	r.Use(httpserver.RequestIDMiddleware("X-Request-Id"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if uid != "" {
				req = req.WithContext(auth.WithUserID(req.Context(), uid))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/v1/progress", h.ListProgress)
	r.Get("/v1/progress/{video_id}", h.GetProgress)
	r.Post("/v1/progress/{video_id}", h.CommitProgress)
	r.Post("/v1/progress/{video_id}/beacon", h.BeaconProgress)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "req-test")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) api.APIError {
	t.Helper()
	var env api.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", rr.Body.String(), err)
	}
	return env.Error
}

func invalidArgument(reason, field string) error {
	st, _ := status.New(codes.InvalidArgument, "bad").WithDetails(
		&errdetails.ErrorInfo{Reason: reason, Domain: "progress"},
		&errdetails.BadRequest{FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: field, Description: "nope"}}},
	)
	return st.Err()
}

// ─── GetProgress ──────────────────────────────────────────────────────────────

func TestGetProgress_ReturnsRecord(t *testing.T) {
	var gotMD metadata.MD
	client := &stubProgressClient{
		getFn: func(ctx context.Context, in *progressv1.GetProgressRequest) (*progressv1.ProgressResponse, error) {
			gotMD, _ = metadata.FromOutgoingContext(ctx)
			if in.UserID != "u-1" || in.VideoID != "vid-9" {
				t.Fatalf("unexpected request %+v", in)
			}
			rec := progress.NewRecord(in.UserID, in.VideoID)
			rec.TotalProgress = 12.5
			return &progressv1.ProgressResponse{Progress: rec}, nil
		},
	}
	rr := do(t, newTestRouter(&ProgressHandlers{Client: client}, "u-1"), http.MethodGet, "/v1/progress/vid-9", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec progress.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.VideoID != "vid-9" || rec.TotalProgress != 12.5 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if got := gotMD.Get("x-request-id"); len(got) != 1 || got[0] != "req-test" {
		t.Fatalf("request id not forwarded: %v", got)
	}
}

func TestGetProgress_RequiresUser(t *testing.T) {
	rr := do(t, newTestRouter(&ProgressHandlers{Client: &stubProgressClient{}}, ""), http.MethodGet, "/v1/progress/vid-9", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Code != api.CodeAuthMissing || e.RequestID != "req-test" {
		t.Fatalf("unexpected envelope %+v", e)
	}
}

// ─── CommitProgress ───────────────────────────────────────────────────────────

func TestCommitProgress_ForwardsBody(t *testing.T) {
	client := &stubProgressClient{
		commitFn: func(_ context.Context, in *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error) {
			if in.UserID != "u-1" || in.VideoID != "vid-1" || in.Interval != (progress.Interval{Start: 5, End: 12}) || in.VideoDuration != 100 {
				t.Fatalf("unexpected request %+v", in)
			}
			if in.LastPosition == nil || *in.LastPosition != 11 {
				t.Fatalf("expected last position 11, got %v", in.LastPosition)
			}
			rec, err := progress.NewRecord(in.UserID, in.VideoID).Apply(in.Commit(), testNow)
			return &progressv1.ProgressResponse{Progress: rec}, err
		},
	}
	body := map[string]any{"videoId": "vid-1", "interval": map[string]float64{"start": 5, "end": 12}, "videoDuration": 100, "lastPosition": 11}
	rr := do(t, newTestRouter(&ProgressHandlers{Client: client}, "u-1"), http.MethodPost, "/v1/progress/vid-1", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec progress.Record
	_ = json.Unmarshal(rr.Body.Bytes(), &rec)
	if rec.TotalProgress != 7 || rec.LastPosition != 11 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestCommitProgress_Rejections(t *testing.T) {
	client := &stubProgressClient{
		commitFn: func(_ context.Context, in *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error) {
			switch {
			case in.VideoDuration <= 0:
				return nil, invalidArgument("INVALID_DURATION", "video_duration")
			case in.Interval.End < in.Interval.Start:
				return nil, invalidArgument("MALFORMED_INTERVAL", "interval")
			}
			return nil, status.Error(codes.Internal, "db")
		},
	}
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"invalid json", "{not json", http.StatusBadRequest, api.CodeInvalidJSON},
		{"path mismatch", map[string]any{"videoId": "other", "interval": map[string]float64{"start": 0, "end": 1}, "videoDuration": 10}, http.StatusBadRequest, api.CodeInvalidArgument},
		{"inverted interval", map[string]any{"interval": map[string]float64{"start": 6, "end": 5}, "videoDuration": 10}, http.StatusBadRequest, api.CodeMalformedInterval},
		{"zero duration", map[string]any{"interval": map[string]float64{"start": 0, "end": 5}, "videoDuration": 0}, http.StatusBadRequest, api.CodeInvalidDuration},
		{"store failure", map[string]any{"interval": map[string]float64{"start": 0, "end": 5}, "videoDuration": 10}, http.StatusInternalServerError, api.CodeInternal},
	}
	r := newTestRouter(&ProgressHandlers{Client: client}, "u-1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/v1/progress/vid-1", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			if e := decodeEnvelope(t, rr); e.Code != tt.wantErr {
				t.Fatalf("expected code %s, got %+v", tt.wantErr, e)
			}
		})
	}
}

func TestCommitProgress_UnavailableUpstream(t *testing.T) {
	client := &stubProgressClient{
		commitFn: func(context.Context, *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error) {
			return nil, status.Error(codes.Unavailable, "connection refused")
		},
	}
	body := map[string]any{"interval": map[string]float64{"start": 0, "end": 5}, "videoDuration": 10}
	rr := do(t, newTestRouter(&ProgressHandlers{Client: client}, "u-1"), http.MethodPost, "/v1/progress/vid-1", body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Code != api.CodeUnavailable {
		t.Fatalf("unexpected envelope %+v", e)
	}
}

// ─── BeaconProgress ───────────────────────────────────────────────────────────

func TestBeaconProgress_PublishesWhenEnabled(t *testing.T) {
	js := &fakeJetStream{}
	client := &stubProgressClient{
		commitFn: func(context.Context, *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error) {
			t.Fatal("beacon must not commit synchronously when publishing is enabled")
			return nil, nil
		},
	}
	h := &ProgressHandlers{Client: client, Publisher: NewEventPublisher(js, true)}
	body := map[string]any{"interval": map[string]float64{"start": 30, "end": 42}, "videoDuration": 120}
	rr := do(t, newTestRouter(h, "u-1"), http.MethodPost, "/v1/progress/vid-2/beacon", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	eventID := rr.Header().Get("X-Event-ID")
	if eventID == "" {
		t.Fatal("expected X-Event-ID header")
	}
	if js.subject != progressv1.BeaconSubject || js.msgID == "" {
		t.Fatalf("unexpected publish subject=%q msgID=%q", js.subject, js.msgID)
	}
	var ev progressv1.BeaconEvent
	if err := json.Unmarshal(js.data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.EventID != eventID || ev.UserID != "u-1" || ev.VideoID != "vid-2" || ev.Interval.End != 42 || ev.CreatedAt.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBeaconProgress_RejectsInvalidBeforePublishing(t *testing.T) {
	js := &fakeJetStream{}
	h := &ProgressHandlers{Client: &stubProgressClient{}, Publisher: NewEventPublisher(js, true)}
	body := map[string]any{"interval": map[string]float64{"start": 10, "end": 5}, "videoDuration": 120}
	rr := do(t, newTestRouter(h, "u-1"), http.MethodPost, "/v1/progress/vid-2/beacon", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Code != api.CodeMalformedInterval {
		t.Fatalf("unexpected envelope %+v", e)
	}
	if js.data != nil {
		t.Fatal("invalid beacon must not be published")
	}
}

func TestBeaconProgress_PublishFailure(t *testing.T) {
	h := &ProgressHandlers{Client: &stubProgressClient{}, Publisher: NewEventPublisher(&fakeJetStream{err: errors.New("no responders")}, true)}
	body := map[string]any{"interval": map[string]float64{"start": 0, "end": 5}, "videoDuration": 120}
	rr := do(t, newTestRouter(h, "u-1"), http.MethodPost, "/v1/progress/vid-2/beacon", body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestBeaconProgress_FallsBackToSyncCommit(t *testing.T) {
	called := false
	client := &stubProgressClient{
		commitFn: func(_ context.Context, in *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error) {
			called = true
			return &progressv1.ProgressResponse{Progress: progress.NewRecord(in.UserID, in.VideoID)}, nil
		},
	}
	for _, pub := range []*EventPublisher{nil, NewEventPublisher(nil, true), NewEventPublisher(&fakeJetStream{}, false)} {
		called = false
		h := &ProgressHandlers{Client: client, Publisher: pub}
		body := map[string]any{"interval": map[string]float64{"start": 0, "end": 5}, "videoDuration": 120}
		rr := do(t, newTestRouter(h, "u-1"), http.MethodPost, "/v1/progress/vid-2/beacon", body)
		if rr.Code != http.StatusOK || !called {
			t.Fatalf("expected synchronous commit, got %d (called=%v)", rr.Code, called)
		}
	}
}

// ─── ListProgress ─────────────────────────────────────────────────────────────

func TestListProgress_ClampsLimitAndPassesCursor(t *testing.T) {
	tests := []struct {
		query string
		want  int32
	}{
		{"", defaultListLimit},
		{"?limit=0", 1},
		{"?limit=500", maxListLimit},
		{"?limit=abc", defaultListLimit},
		{"?limit=7&cursor=abc", 7},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got *progressv1.ListProgressRequest
			client := &stubProgressClient{
				listFn: func(_ context.Context, in *progressv1.ListProgressRequest) (*progressv1.ListProgressResponse, error) {
					got = in
					return &progressv1.ListProgressResponse{Limit: in.Limit}, nil
				},
			}
			rr := do(t, newTestRouter(&ProgressHandlers{Client: client}, "u-1"), http.MethodGet, "/v1/progress"+tt.query, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			if got.Limit != tt.want || got.UserID != "u-1" {
				t.Fatalf("expected limit %d, got %+v", tt.want, got)
			}
			if tt.query == "?limit=7&cursor=abc" && got.Cursor != "abc" {
				t.Fatalf("cursor not forwarded: %q", got.Cursor)
			}
			var out listProgressResponse
			_ = json.Unmarshal(rr.Body.Bytes(), &out)
			if out.Items == nil {
				t.Fatal("expected empty items array, not null")
			}
		})
	}
}
