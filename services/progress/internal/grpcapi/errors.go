package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/course-platform/internal/progress"
	"github.com/example/course-platform/services/progress/internal/store"
	"github.com/example/course-platform/services/progress/internal/tracker"
)

const errorDomain = "progress"

// Reasons carried in errdetails.ErrorInfo. The BFF surfaces them as the
// HTTP error code.
const (
	ReasonMalformedInterval = "MALFORMED_INTERVAL"
	ReasonInvalidDuration   = "INVALID_DURATION"
	ReasonInvalidArgument   = "INVALID_ARGUMENT"
	ReasonInternal          = "INTERNAL"
)

func errInvalidArgument(reason, msg string, fieldViolations map[string]string) error {
	st := status.New(codes.InvalidArgument, msg)
	info := &errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}

	bad := &errdetails.BadRequest{}
	for field, desc := range fieldViolations {
		bad.FieldViolations = append(bad.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: field, Description: desc})
	}

	st2, err := st.WithDetails(info, bad)
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

func errInternal(msg string) error {
	st := status.New(codes.Internal, msg)
	st2, err := st.WithDetails(&errdetails.ErrorInfo{Reason: ReasonInternal, Domain: errorDomain})
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

// toStatus maps domain errors to gRPC status. Anything unrecognised is a
// storage failure and is reported as Internal "db".
func toStatus(err error, field string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, progress.ErrMalformedInterval):
		return errInvalidArgument(ReasonMalformedInterval, "malformed interval", map[string]string{field: err.Error()})
	case errors.Is(err, progress.ErrInvalidDuration):
		return errInvalidArgument(ReasonInvalidDuration, "video duration must be positive", map[string]string{"video_duration": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, tracker.ErrInvalidID):
		return errInvalidArgument(ReasonInvalidArgument, err.Error(), nil)
	case errors.Is(err, store.ErrInvalidCursor):
		return errInvalidArgument(ReasonInvalidArgument, err.Error(), map[string]string{field: "not a cursor returned by a previous page"})
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return errInternal("db")
	}
}
