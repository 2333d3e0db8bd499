package mw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
)

func TestRecover_PanicReturnsCanonicalJSON(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrAPI {
		t.Fatalf("type=%q", env.Error.Type)
	}
	if env.Error.RequestID == "" || rr.Header().Get("X-Request-ID") != env.Error.RequestID {
		t.Fatalf("request_id=%q header=%q", env.Error.RequestID, rr.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_KeepsCallerValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "req_abc" {
		t.Fatalf("request id=%q, want req_abc", seen)
	}
}

func TestAccessLog_RecordsRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /disconnect/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	var buf bytes.Buffer
	var route string
	var status int
	h := AccessLog(slog.New(slog.NewTextHandler(&buf, nil)), func(r string, s int, _ time.Duration) {
		route, status = r, s
	}, mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/disconnect/abc", nil))
	if route != "POST /disconnect/{session_id}" || status != http.StatusNotFound {
		t.Fatalf("route=%q status=%d", route, status)
	}
	if !strings.Contains(buf.String(), "status=404") {
		t.Fatalf("log missing status: %s", buf.String())
	}
}
