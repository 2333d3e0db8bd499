// Package server assembles the HTTP surface: routes, middleware and the
// shutdown hooks the process runs while draining.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// Drainer cancels live sessions and waits for them to be reaped.
type Drainer interface {
	DrainAll(ctx context.Context) error
}

// PeerCloser closes every open peer connection.
type PeerCloser interface {
	CloseAll() int
}

// Deps are the collaborators the routes dispatch to. Rooms is required in
// room mode and Peers in peer mode.
type Deps struct {
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics

	Rooms    handlers.RoomAcquirer
	Peers    handlers.PeerNegotiator
	Sessions handlers.Canceller
	Status   handlers.Lister

	Drainer    Drainer
	PeerCloser PeerCloser

	// Limiter bounds control requests per client address. Nil disables it.
	Limiter *ratelimit.Limiter
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /health", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	switch s.cfg.Transport {
	case config.TransportRoom:
		s.mux.Handle("POST /connect", handlers.ConnectHandler{
			Rooms:     s.deps.Rooms,
			Lifecycle: s.deps.Lifecycle,
			Timeout:   s.cfg.NegotiateTimeout,
			OnFailure: s.failureRecorder(transport.KindRoom),
			Logger:    s.logger,
		})
	default:
		s.mux.Handle("POST /api/offer", handlers.OfferHandler{
			Peers:        s.deps.Peers,
			Lifecycle:    s.deps.Lifecycle,
			MaxBodyBytes: s.cfg.MaxBodyBytes,
			Timeout:      s.cfg.NegotiateTimeout,
			OnFailure:    s.failureRecorder(transport.KindPeer),
			Logger:       s.logger,
		})
	}

	if s.deps.Sessions != nil {
		s.mux.Handle("POST /disconnect/{session_id}", handlers.DisconnectHandler{
			Sessions: s.deps.Sessions,
			Timeout:  s.cfg.NegotiateTimeout,
			Logger:   s.logger,
		})
	}
	if s.deps.Status != nil {
		s.mux.Handle("GET /status", handlers.StatusHandler{Sessions: s.deps.Status})
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) failureRecorder(kind transport.Kind) handlers.FailureFunc {
	if s.deps.Metrics == nil {
		return nil
	}
	m := s.deps.Metrics
	return func(status int) { m.RecordNegotiationFailure(kind, status) }
}

func (s *Server) Handler() http.Handler {
	var record mw.RecordFunc
	if s.deps.Metrics != nil {
		record = s.deps.Metrics.RecordRequest
	}

	var h http.Handler = s.mux
	h = mw.RateLimit(s.deps.Limiter, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, record, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining stops admitting new sessions. Live sessions are untouched.
func (s *Server) SetDraining(draining bool) {
	s.deps.Lifecycle.SetDraining(draining)
}

// DrainSessions cancels every live session and waits for it to be reaped
// or ctx to end.
func (s *Server) DrainSessions(ctx context.Context) error {
	if s.deps.Drainer == nil {
		return nil
	}
	return s.deps.Drainer.DrainAll(ctx)
}

// ClosePeers closes any peer connections still open and reports how many.
func (s *Server) ClosePeers() int {
	if s.deps.PeerCloser == nil {
		return 0
	}
	return s.deps.PeerCloser.CloseAll()
}
