package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	Success bool         `json:"success"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Kind        ferrors.Kind           `json:"kind"`
	Op          string                 `json:"op,omitempty"`
	Message     string                 `json:"message"`
	Recoverable bool                   `json:"recoverable"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind ferrors.Kind) int {
	switch kind {
	case ferrors.KindNotIndexed:
		return http.StatusConflict
	case ferrors.KindTrackOutOfRange, ferrors.KindFrameOutOfRange, ferrors.KindIndexAccessFailed:
		return http.StatusNotFound
	case ferrors.KindNotVideoTrack, ferrors.KindInvalidArgument:
		return http.StatusBadRequest
	case ferrors.KindFrameRetrievalFailed, ferrors.KindFrameDisplayFailed:
		return http.StatusBadGateway
	case ferrors.KindFatalDisplayFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError sends a structured error response
func respondWithError(c *gin.Context, err error) {
	details := ErrorDetails{
		Kind:        ferrors.GetKind(err),
		Message:     err.Error(),
		Recoverable: ferrors.IsRecoverable(err),
	}

	var fErr *ferrors.FrameError
	if errors.As(err, &fErr) {
		details.Op = fErr.Op
		ctx := make(map[string]interface{})
		if fErr.Track != nil {
			ctx["track"] = *fErr.Track
		}
		if fErr.Frame != nil {
			ctx["frame"] = *fErr.Frame
		}
		if fErr.Position != nil {
			ctx["position"] = *fErr.Position
		}
		if fErr.Time != nil {
			ctx["time"] = *fErr.Time
		}
		for k, v := range fErr.Details {
			ctx[k] = v
		}
		if len(ctx) > 0 {
			details.Context = ctx
		}
	}

	c.JSON(statusFor(details.Kind), ErrorResponse{Error: details, Success: false})
}

func badRequest(c *gin.Context, op string, err error) {
	respondWithError(c, ferrors.InvalidArgument(op, err))
}
