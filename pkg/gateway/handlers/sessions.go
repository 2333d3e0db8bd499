package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/negotiate"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
)

// RoomAcquirer starts a session in a managed room.
type RoomAcquirer interface {
	Acquire(ctx context.Context, credential string) (negotiate.Grant, error)
}

// PeerNegotiator answers peer connection offers.
type PeerNegotiator interface {
	Negotiate(ctx context.Context, offer negotiate.Offer) (negotiate.Answer, error)
}

// Canceller cancels sessions by id.
type Canceller interface {
	Cancel(ctx context.Context, id string) error
}

// Lister reports live and recently completed sessions.
type Lister interface {
	List() sessions.Listing
}

// FailureFunc observes a session request that produced no session.
type FailureFunc func(status int)

// ConnectHandler serves POST /connect for the managed-room transport.
type ConnectHandler struct {
	Rooms     RoomAcquirer
	Lifecycle *lifecycle.Lifecycle
	Timeout   time.Duration
	OnFailure FailureFunc
	Logger    *slog.Logger
}

func (h ConnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Admit(); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r.Context(), h.Timeout)
	defer cancel()

	grant, err := h.Rooms.Acquire(ctx, auth.CredentialFromRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h ConnectHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, r, h.Logger, err)
	if h.OnFailure != nil {
		h.OnFailure(status)
	}
}

// offerRequest is the signaling body. Clients may send additional fields.
type offerRequest struct {
	SDP          string `json:"sdp"`
	Type         string `json:"type"`
	ConnectionID string `json:"pc_id,omitempty"`
}

// OfferHandler serves POST /api/offer for the peer transport. The credential
// is only checked when pc_id does not name a live connection.
type OfferHandler struct {
	Peers        PeerNegotiator
	Lifecycle    *lifecycle.Lifecycle
	MaxBodyBytes int64
	Timeout      time.Duration
	OnFailure    FailureFunc
	Logger       *slog.Logger
}

func (h OfferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Admit(); err != nil {
		h.fail(w, r, err)
		return
	}

	body := io.Reader(r.Body)
	if h.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	var req offerRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, r, core.NewInvalidRequestError("request body too large"))
			return
		}
		h.fail(w, r, core.NewInvalidRequestError("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.SDP) == "" {
		h.fail(w, r, core.NewInvalidRequestErrorWithParam("sdp is required", "sdp"))
		return
	}
	if req.Type != "offer" {
		h.fail(w, r, core.NewInvalidRequestErrorWithParam("type must be offer", "type"))
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.Timeout)
	defer cancel()
	answer, err := h.Peers.Negotiate(ctx, negotiate.Offer{
		SDP:          req.SDP,
		Type:         req.Type,
		ConnectionID: strings.TrimSpace(req.ConnectionID),
		Credential:   auth.CredentialFromRequest(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h OfferHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, r, h.Logger, err)
	if h.OnFailure != nil {
		h.OnFailure(status)
	}
}

// DisconnectHandler serves POST /disconnect/{session_id}.
type DisconnectHandler struct {
	Sessions Canceller
	Timeout  time.Duration
	Logger   *slog.Logger
}

func (h DisconnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("session_id"))
	if id == "" {
		writeError(w, r, h.Logger, core.NewInvalidRequestErrorWithParam("session id is required", "session_id"))
		return
	}
	ctx, cancel := withTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Sessions.Cancel(ctx, id); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "session_id": id})
}

// StatusHandler serves GET /status.
type StatusHandler struct {
	Sessions Lister
}

type statusResponse struct {
	Active    []sessions.Status `json:"active_sessions"`
	Completed []sessions.Status `json:"completed_sessions"`
	Total     int               `json:"total_sessions"`
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := h.Sessions.List()
	active := l.Active
	if active == nil {
		active = []sessions.Status{}
	}
	completed := l.Completed
	if completed == nil {
		completed = []sessions.Status{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Active:    active,
		Completed: completed,
		Total:     len(active) + len(completed),
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
