package handlers

import (
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/course-platform/internal/platform/api"
)

func writeGRPCError(w http.ResponseWriter, requestID string, err error) {
	st, ok := status.FromError(err)
	if !ok {
		api.Internal(w, requestID)
		return
	}

	code := api.CodeInternal
	details := map[string]any{}
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.ErrorInfo:
			if v.GetReason() != "" {
				code = v.GetReason()
			}
		case *errdetails.BadRequest:
			for _, fv := range v.GetFieldViolations() {
				if fv.GetField() != "" {
					details[fv.GetField()] = fv.GetDescription()
				}
			}
		}
	}
	if len(details) == 0 {
		details = nil
	}

	switch st.Code() {
	case codes.InvalidArgument:
		if code == api.CodeInternal {
			code = api.CodeInvalidArgument
		}
		api.BadRequest(w, code, st.Message(), requestID, details)
	case codes.Unauthenticated:
		api.Unauthorized(w, api.CodeAuthMissing, st.Message(), requestID)
	case codes.NotFound:
		api.NotFound(w, code, st.Message(), requestID)
	case codes.ResourceExhausted:
		api.RateLimited(w, st.Message(), requestID, details)
	case codes.Unavailable, codes.DeadlineExceeded:
		api.Unavailable(w, "progress service unavailable", requestID)
	default:
		api.Internal(w, requestID)
	}
}
