package negotiate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

const maxConnectionIDLen = 128

// PeerConn is a peer transport that can apply offers.
type PeerConn interface {
	transport.Transport
	Negotiate(ctx context.Context, offer transport.Description) (transport.Description, error)
}

// PeerFactory creates an unnegotiated peer transport for a connection id.
type PeerFactory func(id string) (PeerConn, error)

// PeerConfig wires a Peer negotiator.
type PeerConfig struct {
	Verifier     Verifier
	Users        Users
	Orchestrator Orchestrator
	NewPeer      PeerFactory
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

// Peer is the direct offer/answer strategy. Connection records live from the
// first offer until their session is reaped.
type Peer struct {
	deps
	newPeer PeerFactory
	locks   keyedMutex

	mu    sync.Mutex
	conns map[string]*connRecord
}

type connRecord struct {
	conn      PeerConn
	sessionID string
}

func NewPeer(cfg PeerConfig) (*Peer, error) {
	if cfg.Verifier == nil || cfg.Orchestrator == nil || cfg.NewPeer == nil {
		return nil, errors.New("negotiate: peer strategy needs verifier, orchestrator and peer factory")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Peer{
		deps: deps{
			verifier: cfg.Verifier,
			users:    cfg.Users,
			orch:     cfg.Orchestrator,
			limiter:  cfg.Limiter,
			logger:   cfg.Logger,
			now:      time.Now,
		},
		newPeer: cfg.NewPeer,
		conns:   make(map[string]*connRecord),
	}, nil
}

// Offer is a client offer. ConnectionID is empty on first contact.
type Offer struct {
	SDP          string
	Type         string
	ConnectionID string
	Credential   string
}

// Answer is the negotiated local description.
type Answer struct {
	SDP          string `json:"sdp"`
	Type         string `json:"type"`
	ConnectionID string `json:"pc_id"`
	SessionID    string `json:"session_id,omitempty"`
	Renegotiated bool   `json:"-"`
}

// Negotiate renegotiates the live connection named by offer.ConnectionID,
// or authenticates the caller and creates a new connection and session.
// Calls for the same connection id are serialized, so concurrent offers for
// one id create at most one session.
func (n *Peer) Negotiate(ctx context.Context, offer Offer) (Answer, error) {
	if len(offer.ConnectionID) > maxConnectionIDLen {
		return Answer{}, core.NewInvalidRequestErrorWithParam("connection id too long", "pc_id")
	}
	id := offer.ConnectionID
	if id == "" {
		id = uuid.NewString()
	}
	unlock := n.locks.Lock(id)
	defer unlock()

	desc := transport.Description{SDP: offer.SDP, Type: offer.Type}
	logger := n.logger.With("connection_id", id)

	if rec := n.lookup(id); rec != nil {
		answer, err := rec.conn.Negotiate(ctx, desc)
		if err != nil {
			return Answer{}, &core.TransportError{Op: "renegotiate " + id, Err: err}
		}
		logger.Info("peer renegotiated", "session_id", rec.sessionID)
		return Answer{SDP: answer.SDP, Type: answer.Type, ConnectionID: id, SessionID: rec.sessionID, Renegotiated: true}, nil
	}

	claims, user, permit, err := n.admit(ctx, offer.Credential)
	if err != nil {
		return Answer{}, err
	}

	conn, err := n.newPeer(id)
	if err != nil {
		permit.Release()
		return Answer{}, &core.TransportError{Op: "new peer connection " + id, Err: err}
	}
	answer, err := conn.Negotiate(ctx, desc)
	if err != nil {
		permit.Release()
		_ = conn.Close()
		return Answer{}, &core.TransportError{Op: "negotiate " + id, Err: err}
	}

	rec := &connRecord{conn: conn}
	n.mu.Lock()
	n.conns[id] = rec
	n.mu.Unlock()

	s, err := n.orch.Create(ctx, session.Request{
		Transport: conn,
		Subject:   claims.Subject,
		User:      user,
		Release: func() {
			permit.Release()
			n.remove(id, rec)
			logger.Debug("connection record discarded")
		},
	})
	if err != nil {
		n.remove(id, rec)
		permit.Release()
		_ = conn.Close()
		return Answer{}, err
	}
	n.mu.Lock()
	rec.sessionID = s.ID()
	n.mu.Unlock()

	logger.Info("peer session created", "session_id", s.ID(), "subject", claims.Subject)
	return Answer{SDP: answer.SDP, Type: answer.Type, ConnectionID: id, SessionID: s.ID()}, nil
}

func (n *Peer) lookup(id string) *connRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[id]
}

func (n *Peer) remove(id string, rec *connRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns[id] == rec {
		delete(n.conns, id)
	}
}

// Connections reports how many connection records are live.
func (n *Peer) Connections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// CloseAll closes every live peer connection. Sessions observe the closure
// and cancel themselves.
func (n *Peer) CloseAll() int {
	n.mu.Lock()
	conns := make([]PeerConn, 0, len(n.conns))
	for _, rec := range n.conns {
		conns = append(conns, rec.conn)
	}
	n.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			n.logger.Debug("peer close", "connection_id", c.ID(), "error", fmt.Sprint(err))
		}
	}
	return len(conns)
}
