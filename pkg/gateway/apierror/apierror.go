package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// ErrDraining is returned while the process refuses new sessions during
// shutdown.
var ErrDraining = errors.New("server is draining")

// FromError maps an error onto the wire envelope and an HTTP status. Typed
// domain errors carry only a generic message; their detail stays in logs.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	if errors.Is(err, ErrDraining) {
		return &core.Error{
			Type:      core.ErrOverloaded,
			Message:   "server is shutting down",
			Code:      "draining",
			RequestID: requestID,
		}, statusFromType(core.ErrOverloaded)
	}

	var authErr *core.AuthError
	if errors.As(err, &authErr) {
		return &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "invalid credential",
			RequestID: requestID,
		}, http.StatusUnauthorized
	}

	if errors.Is(err, core.ErrSessionNotFound) {
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "session not found",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	var trErr *core.TransportError
	if errors.As(err, &trErr) {
		return &core.Error{
			Type:      core.ErrTransport,
			Message:   "could not establish a connection, try again",
			Code:      "transport_unavailable",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	var initErr *core.PipelineInitError
	if errors.As(err, &initErr) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "session could not be started",
			Code:      "pipeline_init_failed",
			RequestID: requestID,
		}, http.StatusInternalServerError
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrTransport:
		return http.StatusBadGateway
	case core.ErrAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
