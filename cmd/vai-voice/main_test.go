package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

func noSignals() (func(chan<- os.Signal, ...os.Signal), func(chan<- os.Signal)) {
	return func(chan<- os.Signal, ...os.Signal) {}, func(chan<- os.Signal) {}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	notify, stop := noSignals()
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"serve"}, io.Discard, &stderr, serveDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		build: func(context.Context, config.Config, *slog.Logger) (*app, error) {
			t.Fatalf("build should not be called when config load fails")
			return nil, nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("stderr=%q, want config error", stderr.String())
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}
	srv := buildHTTPServer(cfg, http.NotFoundHandler())
	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout || srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("timeouts=%v/%v", srv.ReadHeaderTimeout, srv.ReadTimeout)
	}
}

type recordingGateway struct {
	mu    sync.Mutex
	calls []string
}

func (g *recordingGateway) record(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, s)
}

func (g *recordingGateway) Handler() http.Handler { return http.NotFoundHandler() }
func (g *recordingGateway) SetDraining(bool)      { g.record("draining") }
func (g *recordingGateway) DrainSessions(context.Context) error {
	g.record("drain")
	return nil
}
func (g *recordingGateway) ClosePeers() int {
	g.record("close-peers")
	return 0
}

func TestRunServe_ShutdownOrder(t *testing.T) {
	gw := &recordingGateway{}
	deps := serveDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{
				Addr:                "127.0.0.1:0",
				Transport:           config.TransportPeer,
				ReadHeaderTimeout:   time.Second,
				ReadTimeout:         time.Second,
				ShutdownGracePeriod: time.Second,
			}, nil
		},
		build: func(context.Context, config.Config, *slog.Logger) (*app, error) {
			return &app{gateway: gw, close: func() error {
				gw.record("close")
				return nil
			}}, nil
		},
		signalNotify: func(c chan<- os.Signal, _ ...os.Signal) { c <- os.Interrupt },
		signalStop:   func(chan<- os.Signal) {},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := runServe(context.Background(), logger, deps); err != nil {
		t.Fatalf("runServe: %v", err)
	}
	want := []string{"draining", "drain", "close-peers", "close"}
	if strings.Join(gw.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v, want %v", gw.calls, want)
	}
}

func TestBuildApp_PeerModeServesHealth(t *testing.T) {
	cfg := config.Config{
		Addr:             ":0",
		Transport:        config.TransportPeer,
		JWTSecret:        "secret",
		JWTAudience:      "authenticated",
		StoreDSN:         "memory://",
		MaxBodyBytes:     1 << 16,
		CompletedHistory: 10,
		NegotiateTimeout: time.Second,
		ControlRPS:       10,
		ControlBurst:     10,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()

	h := a.gateway.Handler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(`{"sdp":"v=0","type":"offer"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated offer status=%d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"total_sessions":0`) {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestTokenCommand_IssuesVerifiableCredential(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("VAI_VOICE_JWT_AUDIENCE", "")

	var out bytes.Buffer
	root := newRootCmd(defaultServeDeps())
	root.SetArgs([]string{"token", "--subject", "user-1", "--ttl", "5m"})
	root.SetOut(&out)
	root.SetErr(io.Discard)
	if err := root.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := auth.NewGate("secret").Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject=%q, want user-1", claims.Subject)
	}
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	root := newRootCmd(defaultServeDeps())
	root.SetArgs([]string{"token", "--subject", "user-1"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "JWT_SECRET_KEY") {
		t.Fatalf("err=%v, want JWT_SECRET_KEY error", err)
	}
}

func TestUserCommands_RoundTripThroughBadger(t *testing.T) {
	dsn := "badger://" + filepath.Join(t.TempDir(), "users")

	put := newRootCmd(defaultServeDeps())
	put.SetArgs([]string{"user", "put", "user-1", "--dsn", dsn, "--name", "Ada", "--memory", "likes jazz"})
	put.SetOut(io.Discard)
	put.SetErr(io.Discard)
	if err := put.Execute(); err != nil {
		t.Fatalf("user put: %v", err)
	}

	var out bytes.Buffer
	get := newRootCmd(defaultServeDeps())
	get.SetArgs([]string{"user", "get", "user-1", "--dsn", dsn})
	get.SetOut(&out)
	get.SetErr(io.Discard)
	if err := get.Execute(); err != nil {
		t.Fatalf("user get: %v", err)
	}
	if !strings.Contains(out.String(), "Ada") || !strings.Contains(out.String(), "likes jazz") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestMigrateCommand_RejectsNonPostgresDSN(t *testing.T) {
	root := newRootCmd(defaultServeDeps())
	root.SetArgs([]string{"migrate", "--dsn", "memory://"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("err=%v, want postgres dsn error", err)
	}
}
