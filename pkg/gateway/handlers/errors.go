package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
)

// writeError maps err to the wire envelope and returns the status written.
// The full error is logged; the response carries only the mapped message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) int {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	if logger != nil {
		level := slog.LevelWarn
		if status >= 500 {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "request failed", "request_id", reqID, "path", r.URL.Path, "status", status, "error", err)
	}
	if coreErr.RetryAfter != nil && *coreErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*coreErr.RetryAfter))
	}
	writeCoreErrorJSON(w, reqID, coreErr, status)
	return status
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
