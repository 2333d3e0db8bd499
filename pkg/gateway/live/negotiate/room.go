package negotiate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// DefaultCredentialTTL is the lifetime of issued room credentials.
const DefaultCredentialTTL = time.Hour

// Provisioner creates managed rooms and credentials for them.
type Provisioner interface {
	CreateRoom(ctx context.Context) (transport.ProvisionedRoom, error)
	IssueCredential(ctx context.Context, room, identity string, ttl time.Duration) (string, error)
	DeleteRoom(ctx context.Context, room string) error
}

// JoinFunc connects the agent to a provisioned room.
type JoinFunc func(ctx context.Context, room transport.ProvisionedRoom, token string) (transport.Transport, error)

// RoomConfig wires a Room negotiator.
type RoomConfig struct {
	Verifier      Verifier
	Users         Users
	Orchestrator  Orchestrator
	Provisioner   Provisioner
	Join          JoinFunc
	Limiter       *ratelimit.Limiter
	CredentialTTL time.Duration
	Logger        *slog.Logger
}

// Room is the managed-room strategy.
type Room struct {
	deps
	prov Provisioner
	join JoinFunc
	ttl  time.Duration
}

func NewRoom(cfg RoomConfig) (*Room, error) {
	if cfg.Verifier == nil || cfg.Orchestrator == nil || cfg.Provisioner == nil || cfg.Join == nil {
		return nil, errors.New("negotiate: room strategy needs verifier, orchestrator, provisioner and join")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = DefaultCredentialTTL
	}
	return &Room{
		deps: deps{
			verifier: cfg.Verifier,
			users:    cfg.Users,
			orch:     cfg.Orchestrator,
			limiter:  cfg.Limiter,
			logger:   cfg.Logger,
			now:      time.Now,
		},
		prov: cfg.Provisioner,
		join: cfg.Join,
		ttl:  cfg.CredentialTTL,
	}, nil
}

// Grant is what the client needs to join its room.
type Grant struct {
	RoomURL   string `json:"room_url"`
	RoomName  string `json:"room_name"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// Acquire verifies the caller, provisions a room with a credential, joins the
// agent to it and starts the session. Nothing is registered on failure.
func (n *Room) Acquire(ctx context.Context, credential string) (Grant, error) {
	claims, user, permit, err := n.admit(ctx, credential)
	if err != nil {
		return Grant{}, err
	}

	room, err := n.prov.CreateRoom(ctx)
	if err != nil {
		permit.Release()
		return Grant{}, &core.TransportError{Op: "create room", Room: room.Name, Err: err}
	}
	logger := n.logger.With("room", room.Name)

	fail := func(op string, err error) (Grant, error) {
		permit.Release()
		if derr := n.prov.DeleteRoom(context.WithoutCancel(ctx), room.Name); derr != nil {
			logger.Warn("room cleanup failed", "error", derr)
		}
		return Grant{}, &core.TransportError{Op: op, Room: room.Name, Err: err}
	}

	userToken, err := n.prov.IssueCredential(ctx, room.Name, claims.Subject, n.ttl)
	if err != nil {
		return fail("issue credential", err)
	}
	botToken, err := n.prov.IssueCredential(ctx, room.Name, transport.BotIdentity, n.ttl)
	if err != nil {
		return fail("issue agent credential", err)
	}
	tr, err := n.join(ctx, room, botToken)
	if err != nil {
		return fail("join room", err)
	}

	s, err := n.orch.Create(ctx, session.Request{
		Transport: tr,
		Subject:   claims.Subject,
		User:      user,
		Release:   permit.Release,
	})
	if err != nil {
		_ = tr.Close()
		permit.Release()
		if derr := n.prov.DeleteRoom(context.WithoutCancel(ctx), room.Name); derr != nil {
			logger.Warn("room cleanup failed", "error", derr)
		}
		return Grant{}, err
	}
	logger.Info("room session created", "session_id", s.ID(), "subject", claims.Subject)
	return Grant{RoomURL: room.URL, RoomName: room.Name, Token: userToken, SessionID: s.ID()}, nil
}
