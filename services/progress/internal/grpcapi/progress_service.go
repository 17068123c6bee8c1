package grpcapi

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/progress"
	"github.com/example/course-platform/services/progress/internal/store"
	"github.com/example/course-platform/services/progress/internal/tracker"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

type ProgressService struct {
	progressv1.UnimplementedProgressServiceServer
	Tracker *tracker.Tracker
	Logger  *zap.Logger
}

func (s *ProgressService) GetProgress(ctx context.Context, req *progressv1.GetProgressRequest) (*progressv1.ProgressResponse, error) {
	rec, err := s.Tracker.Get(ctx, req.UserID, req.VideoID)
	if err != nil {
		return nil, s.fail(ctx, "get", err, "video_id")
	}
	return &progressv1.ProgressResponse{Progress: rec}, nil
}

func (s *ProgressService) CommitProgress(ctx context.Context, req *progressv1.CommitProgressRequest) (*progressv1.ProgressResponse, error) {
	rec, err := s.Tracker.Commit(ctx, tracker.SourceRPC, req.UserID, req.VideoID, req.Commit())
	if err != nil {
		return nil, s.fail(ctx, "commit", err, "interval")
	}
	return &progressv1.ProgressResponse{Progress: rec}, nil
}

func (s *ProgressService) ListProgress(ctx context.Context, req *progressv1.ListProgressRequest) (*progressv1.ListProgressResponse, error) {
	limit := clampLimit(int(req.Limit), defaultListLimit, maxListLimit)
	cursor, err := store.DecodeCursor(req.Cursor)
	if err != nil {
		return nil, s.fail(ctx, "list", err, "cursor")
	}
	records, err := s.Tracker.List(ctx, req.UserID, limit, cursor)
	if err != nil {
		return nil, s.fail(ctx, "list", err, "user_id")
	}

	resp := &progressv1.ListProgressResponse{Items: records, Limit: int32(limit)}
	if resp.Items == nil {
		resp.Items = []progress.Record{}
	}
	if len(records) == limit {
		resp.NextCursor = store.EncodeCursor(records[len(records)-1])
	}
	return resp, nil
}

func (s *ProgressService) fail(ctx context.Context, op string, err error, field string) error {
	st := toStatus(err, field)
	if s.Logger != nil && st != nil {
		s.Logger.Debug("progress rpc failed", zap.String("op", op), zap.String("request_id", requestID(ctx)), zap.Error(err))
	}
	return st
}

// requestID returns the x-request-id the BFF forwards, if any.
func requestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-request-id"); len(v) > 0 {
		return v[0]
	}
	return ""
}

func clampLimit(v, def, maxVal int) int {
	if v <= 0 {
		return def
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

var _ progressv1.ProgressServiceServer = (*ProgressService)(nil)
