package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/negotiate"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRooms struct {
	credential string
	grant      negotiate.Grant
	err        error
}

func (f *fakeRooms) Acquire(_ context.Context, credential string) (negotiate.Grant, error) {
	f.credential = credential
	return f.grant, f.err
}

type fakePeers struct {
	offer  negotiate.Offer
	answer negotiate.Answer
	err    error
}

func (f *fakePeers) Negotiate(_ context.Context, offer negotiate.Offer) (negotiate.Answer, error) {
	f.offer = offer
	return f.answer, f.err
}

type fakeSessions struct {
	cancelled []string
	known     map[string]bool
	listing   sessions.Listing
}

func (f *fakeSessions) Cancel(_ context.Context, id string) error {
	if !f.known[id] {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeSessions) List() sessions.Listing { return f.listing }

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) core.Error {
	t.Helper()
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", rr.Body.String(), err)
	}
	return env.Error
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "Working!" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler(t *testing.T) {
	cfg := config.Config{
		Transport:    config.TransportPeer,
		JWTSecret:    "s",
		GoogleAPIKey: "g",
		OpenAIAPIKey: "o",
	}
	cfg.Profile.Providers.LLM.Provider = "google"
	cfg.Profile.Providers.TTS.Provider = "openai"
	lc := &lifecycle.Lifecycle{}

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg, Lifecycle: lc}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	lc.SetDraining(true)
	rr = httptest.NewRecorder()
	ReadyHandler{Config: cfg, Lifecycle: lc}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"draining":true`) {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_ReportsMissingVendorKey(t *testing.T) {
	cfg := config.Config{Transport: config.TransportPeer, JWTSecret: "s"}
	cfg.Profile.Providers.STT.Provider = "deepgram"

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "stt provider key") {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestConnectHandler_ReturnsGrant(t *testing.T) {
	rooms := &fakeRooms{grant: negotiate.Grant{RoomURL: "wss://r", RoomName: "vai-1", Token: "tok", SessionID: "s-1"}}
	h := ConnectHandler{Rooms: rooms, Logger: discard}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connect?token=cred", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rooms.credential != "cred" {
		t.Fatalf("credential=%q, want cred", rooms.credential)
	}
	var got negotiate.Grant
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != rooms.grant {
		t.Fatalf("grant=%+v, want %+v", got, rooms.grant)
	}
}

func TestConnectHandler_AuthFailureHidesReason(t *testing.T) {
	var failures []int
	rooms := &fakeRooms{err: &core.AuthError{Reason: core.AuthAudience, Err: errors.New("token has invalid audience")}}
	h := ConnectHandler{Rooms: rooms, Logger: discard, OnFailure: func(s int) { failures = append(failures, s) }}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connect?token=bad", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "audience") {
		t.Fatalf("body leaks reason: %q", rr.Body.String())
	}
	if len(failures) != 1 || failures[0] != http.StatusUnauthorized {
		t.Fatalf("failures=%v, want [401]", failures)
	}
}

func TestConnectHandler_RejectsWhileDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	rooms := &fakeRooms{}
	h := ConnectHandler{Rooms: rooms, Lifecycle: lc, Logger: discard}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connect?token=cred", nil))
	if rr.Code != 529 {
		t.Fatalf("status=%d, want 529", rr.Code)
	}
	if rooms.credential != "" {
		t.Fatalf("acquire called while draining")
	}
}

func TestConnectHandler_RateLimitSetsRetryAfter(t *testing.T) {
	h := ConnectHandler{Rooms: &fakeRooms{err: core.NewRateLimitError("too many concurrent sessions", 2)}, Logger: discard}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connect?token=cred", nil))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "2" {
		t.Fatalf("status=%d retry-after=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestOfferHandler_PassesOfferAndCredential(t *testing.T) {
	peers := &fakePeers{answer: negotiate.Answer{SDP: "v=0 answer", Type: "answer", ConnectionID: "pc-1", SessionID: "s-1"}}
	h := OfferHandler{Peers: peers, MaxBodyBytes: 1 << 10, Timeout: time.Second, Logger: discard}

	req := httptest.NewRequest(http.MethodPost, "/api/offer?token=cred", strings.NewReader(`{"sdp":"v=0 offer","type":"offer","pc_id":"pc-1","restart_pc":false}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if peers.offer.Credential != "cred" || peers.offer.ConnectionID != "pc-1" || peers.offer.SDP != "v=0 offer" {
		t.Fatalf("offer=%+v", peers.offer)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["sdp"] != "v=0 answer" || body["type"] != "answer" || body["pc_id"] != "pc-1" {
		t.Fatalf("body=%v", body)
	}
}

func TestOfferHandler_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"sdp":`},
		{"missing sdp", `{"type":"offer"}`},
		{"answer type", `{"sdp":"v=0","type":"answer"}`},
		{"too large", `{"sdp":"` + strings.Repeat("a", 2048) + `","type":"offer"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			peers := &fakePeers{}
			h := OfferHandler{Peers: peers, MaxBodyBytes: 1 << 10, Logger: discard}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if e := decodeError(t, rr); e.Type != core.ErrInvalidRequest {
				t.Fatalf("type=%q", e.Type)
			}
			if peers.offer.SDP != "" {
				t.Fatalf("negotiator called for invalid body")
			}
		})
	}
}

func TestOfferHandler_TransportErrorIs502(t *testing.T) {
	peers := &fakePeers{err: &core.TransportError{Op: "negotiate pc-1", Err: errors.New("ice failed")}}
	h := OfferHandler{Peers: peers, Logger: discard}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/offer?token=x", strings.NewReader(`{"sdp":"v=0","type":"offer"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if e := decodeError(t, rr); e.Type != core.ErrTransport {
		t.Fatalf("type=%q", e.Type)
	}
}

func TestDisconnectHandler(t *testing.T) {
	s := &fakeSessions{known: map[string]bool{"s-1": true}}
	mux := http.NewServeMux()
	mux.Handle("POST /disconnect/{session_id}", DisconnectHandler{Sessions: s, Logger: discard})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/disconnect/s-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["status"] != "disconnected" || body["session_id"] != "s-1" {
		t.Fatalf("body=%v", body)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/disconnect/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown status=%d, want 404", rr.Code)
	}
	if e := decodeError(t, rr); e.Type != core.ErrNotFound {
		t.Fatalf("type=%q", e.Type)
	}
}

func TestStatusHandler(t *testing.T) {
	s := &fakeSessions{listing: sessions.Listing{
		Active:    []sessions.Status{{ID: "a", State: "running"}},
		Completed: []sessions.Status{{ID: "b", State: "terminated", Outcome: "failed", Error: "stt: closed"}},
	}}
	rr := httptest.NewRecorder()
	StatusHandler{Sessions: s}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body struct {
		Active    []sessions.Status `json:"active_sessions"`
		Completed []sessions.Status `json:"completed_sessions"`
		Total     int               `json:"total_sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Total != 2 || body.Completed[0].Error != "stt: closed" {
		t.Fatalf("body=%+v", body)
	}
}

func TestStatusHandler_EmptyListsAreArrays(t *testing.T) {
	rr := httptest.NewRecorder()
	StatusHandler{Sessions: &fakeSessions{}}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(rr.Body.String(), `"active_sessions":[]`) || !strings.Contains(rr.Body.String(), `"completed_sessions":[]`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}
