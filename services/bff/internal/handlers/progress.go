package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/platform/api"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/metrics"
	"github.com/example/course-platform/internal/progress"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

// commitProgressBody is the REST commit payload. VideoID is optional; when
// present it must match the path.
type commitProgressBody struct {
	VideoID       string            `json:"videoId,omitempty"`
	Interval      progress.Interval `json:"interval"`
	VideoDuration float64           `json:"videoDuration"`
	LastPosition  *float64          `json:"lastPosition,omitempty"`
	ClientTS      time.Time         `json:"clientTs,omitzero"`
}

func (b commitProgressBody) commit() progress.Commit {
	return progress.Commit{Interval: b.Interval, VideoDuration: b.VideoDuration, LastPosition: b.LastPosition, ClientTS: b.ClientTS}
}

type listProgressResponse struct {
	Items      []progress.Record `json:"items"`
	Limit      int32             `json:"limit"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ProgressHandlers binds the REST progress routes to the progress service.
type ProgressHandlers struct {
	Client    progressv1.ProgressServiceClient
	Publisher *EventPublisher
	Logger    *zap.Logger
}

func (h *ProgressHandlers) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// requestUser returns the authenticated user, writing a 401 when absent.
func requestUser(w http.ResponseWriter, r *http.Request, rid string) (string, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(uid) == "" {
		api.Unauthorized(w, api.CodeAuthMissing, "Missing auth", rid)
		return "", false
	}
	return uid, true
}

// outgoing forwards the request id to the progress service.
func outgoing(r *http.Request, rid string) context.Context {
	return metadata.AppendToOutgoingContext(r.Context(), "x-request-id", rid)
}

func pathVideoID(w http.ResponseWriter, r *http.Request, rid string) (string, bool) {
	videoID := strings.TrimSpace(chi.URLParam(r, "video_id"))
	if videoID == "" {
		api.BadRequest(w, api.CodeInvalidArgument, "video_id is required", rid, nil)
		return "", false
	}
	return videoID, true
}

func (h *ProgressHandlers) decodeCommit(w http.ResponseWriter, r *http.Request, rid, videoID string) (commitProgressBody, bool) {
	var body commitProgressBody
	if !decodeJSON(w, r, rid, &body) {
		return body, false
	}
	if v := strings.TrimSpace(body.VideoID); v != "" && v != videoID {
		api.BadRequest(w, api.CodeInvalidArgument, "videoId does not match path", rid, map[string]any{"videoId": v})
		return body, false
	}
	return body, true
}

// GetProgress serves GET /v1/progress/{video_id}. A pair never committed
// returns the zero record.
func (h *ProgressHandlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, ok := requestUser(w, r, rid)
	if !ok {
		return
	}
	videoID, ok := pathVideoID(w, r, rid)
	if !ok {
		return
	}

	resp, err := h.Client.GetProgress(outgoing(r, rid), &progressv1.GetProgressRequest{UserID: uid, VideoID: videoID})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp.Progress)
}

// CommitProgress serves POST /v1/progress/{video_id}.
func (h *ProgressHandlers) CommitProgress(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, ok := requestUser(w, r, rid)
	if !ok {
		return
	}
	videoID, ok := pathVideoID(w, r, rid)
	if !ok {
		return
	}
	body, ok := h.decodeCommit(w, r, rid, videoID)
	if !ok {
		return
	}
	h.commitSync(w, r, rid, uid, videoID, body)
}

func (h *ProgressHandlers) commitSync(w http.ResponseWriter, r *http.Request, rid, uid, videoID string, body commitProgressBody) {
	resp, err := h.Client.CommitProgress(outgoing(r, rid), &progressv1.CommitProgressRequest{
		UserID:        uid,
		VideoID:       videoID,
		Interval:      body.Interval,
		VideoDuration: body.VideoDuration,
		LastPosition:  body.LastPosition,
		ClientTS:      body.ClientTS,
	})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp.Progress)
}

// BeaconProgress serves POST /v1/progress/{video_id}/beacon, the unload path.
// With JetStream configured the commit is queued and 202 returned with the
// event id; otherwise it is committed synchronously.
func (h *ProgressHandlers) BeaconProgress(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, ok := requestUser(w, r, rid)
	if !ok {
		return
	}
	videoID, ok := pathVideoID(w, r, rid)
	if !ok {
		return
	}
	body, ok := h.decodeCommit(w, r, rid, videoID)
	if !ok {
		return
	}

	if !h.Publisher.Enabled() {
		metrics.BeaconsTotal.WithLabelValues("sync").Inc()
		h.commitSync(w, r, rid, uid, videoID, body)
		return
	}

	// Queued commits are never seen by the caller again, so reject bad ones now.
	if err := body.commit().Validate(); err != nil {
		metrics.BeaconsTotal.WithLabelValues("rejected").Inc()
		writeCommitError(w, rid, err)
		return
	}

	eventID, err := h.Publisher.PublishBeacon(progressv1.BeaconEvent{
		UserID:        uid,
		VideoID:       videoID,
		Interval:      body.Interval,
		VideoDuration: body.VideoDuration,
		LastPosition:  body.LastPosition,
		ClientTS:      body.ClientTS,
	})
	if err != nil {
		metrics.BeaconsTotal.WithLabelValues("publish_failed").Inc()
		h.log().Warn("beacon publish failed",
			zap.String("request_id", rid),
			zap.String("video_id", videoID),
			zap.Error(err),
		)
		api.Unavailable(w, "failed to queue progress", rid)
		return
	}
	metrics.BeaconsTotal.WithLabelValues("queued").Inc()
	w.Header().Set("X-Event-ID", eventID)
	w.WriteHeader(http.StatusAccepted)
}

func writeCommitError(w http.ResponseWriter, rid string, err error) {
	switch {
	case errors.Is(err, progress.ErrInvalidDuration):
		api.BadRequest(w, api.CodeInvalidDuration, "video duration must be positive", rid, map[string]any{"videoDuration": err.Error()})
	default:
		api.BadRequest(w, api.CodeMalformedInterval, "malformed interval", rid, map[string]any{"interval": err.Error()})
	}
}

// ListProgress serves GET /v1/progress, most recently updated first.
func (h *ProgressHandlers) ListProgress(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, ok := requestUser(w, r, rid)
	if !ok {
		return
	}

	limit := int32(defaultListLimit)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n < 1 {
				n = 1
			}
			if n > maxListLimit {
				n = maxListLimit
			}
			limit = int32(n)
		}
	}

	resp, err := h.Client.ListProgress(outgoing(r, rid), &progressv1.ListProgressRequest{
		UserID: uid,
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeGRPCError(w, rid, err)
		return
	}

	out := listProgressResponse{Items: resp.Items, Limit: resp.Limit, NextCursor: resp.NextCursor}
	if out.Items == nil {
		out.Items = []progress.Record{}
	}
	api.WriteJSON(w, http.StatusOK, out)
}
