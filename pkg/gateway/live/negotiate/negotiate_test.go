package negotiate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/providers"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/live/livetest"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport/transporttest"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedResolver struct{ set providers.Set }

func (r fixedResolver) Resolve(types.ProviderConfig) providers.Set { return r.set }

// tokens maps credentials to subjects.
type tokens map[string]string

func (v tokens) Verify(credential string) (types.Claims, error) {
	sub, ok := v[credential]
	if !ok {
		return types.Claims{}, &core.AuthError{Reason: core.AuthSignature}
	}
	return types.Claims{Subject: sub}, nil
}

type users map[string]types.UserContext

func (u users) FetchUser(_ context.Context, subject string) (types.UserContext, error) {
	uc, ok := u[subject]
	if !ok {
		return types.UserContext{}, core.ErrUserNotFound
	}
	return uc, nil
}

type fakePeer struct {
	*transporttest.Fake
	delay time.Duration
	err   error
}

func (p *fakePeer) Negotiate(_ context.Context, offer transport.Description) (transport.Description, error) {
	time.Sleep(p.delay)
	if p.err != nil {
		return transport.Description{}, p.err
	}
	p.Renegotiate()
	p.SetConnected(true)
	return transport.Description{SDP: "answer:" + offer.SDP, Type: "answer"}, nil
}

type provisioner struct {
	createErr error
	credErr   error

	mu      sync.Mutex
	issued  []string
	deleted []string
}

func (p *provisioner) CreateRoom(context.Context) (transport.ProvisionedRoom, error) {
	if p.createErr != nil {
		return transport.ProvisionedRoom{Name: "vai-r1"}, p.createErr
	}
	return transport.ProvisionedRoom{Name: "vai-r1", URL: "wss://rooms.test"}, nil
}

func (p *provisioner) IssueCredential(_ context.Context, room, identity string, _ time.Duration) (string, error) {
	if p.credErr != nil {
		return "", p.credErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, identity)
	return "tok-" + identity, nil
}

func (p *provisioner) DeleteRoom(_ context.Context, room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, room)
	return nil
}

func (p *provisioner) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

type env struct {
	registry *sessions.Registry
	orch     *session.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := sessions.New(0)
	orch, err := session.New(session.Config{
		Resolver: fixedResolver{set: livetest.Set()},
		Registry: reg,
		Profile:  types.AgentProfile{FirstMessage: "Hello"},
		Logger:   discard,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = reg.DrainAll(ctx)
	})
	return &env{registry: reg, orch: orch}
}

func (e *env) room(t *testing.T, prov *provisioner, limiter *ratelimit.Limiter) *Room {
	t.Helper()
	n, err := NewRoom(RoomConfig{
		Verifier:     tokens{"good": "u1"},
		Users:        users{"u1": {Subject: "u1", Name: "Asha"}},
		Orchestrator: e.orch,
		Provisioner:  prov,
		Join: func(_ context.Context, room transport.ProvisionedRoom, _ string) (transport.Transport, error) {
			return transporttest.New(transport.KindRoom, room.Name), nil
		},
		Limiter: limiter,
		Logger:  discard,
	})
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	return n
}

func TestRoom_AcquireStartsSession(t *testing.T) {
	e := newEnv(t)
	prov := &provisioner{}
	g, err := e.room(t, prov, nil).Acquire(context.Background(), "good")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if g.RoomName != "vai-r1" || g.RoomURL != "wss://rooms.test" {
		t.Fatalf("grant=%+v", g)
	}
	if g.Token != "tok-u1" {
		t.Fatalf("token=%q, want the caller's credential", g.Token)
	}
	if len(prov.issued) != 2 || prov.issued[1] != transport.BotIdentity {
		t.Fatalf("issued=%v, want agent credential second", prov.issued)
	}
	s, ok := e.orch.Lookup(g.SessionID)
	if !ok {
		t.Fatalf("session %s not registered", g.SessionID)
	}
	if s.User() == nil || s.User().Name != "Asha" {
		t.Fatalf("user=%+v, want fetched profile", s.User())
	}
}

func TestRoom_AuthFailureCreatesNothing(t *testing.T) {
	e := newEnv(t)
	_, err := e.room(t, &provisioner{}, nil).Acquire(context.Background(), "forged")
	var ae *core.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v, want AuthError", err)
	}
	if e.registry.Count() != 0 {
		t.Fatalf("count=%d, want 0", e.registry.Count())
	}
}

func TestRoom_CreateFailureIsTransportError(t *testing.T) {
	e := newEnv(t)
	_, err := e.room(t, &provisioner{createErr: errors.New("503")}, nil).Acquire(context.Background(), "good")
	var te *core.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err=%v, want TransportError", err)
	}
	if e.registry.Count() != 0 {
		t.Fatalf("count=%d, want 0", e.registry.Count())
	}
}

func TestRoom_CredentialFailureNamesRoomAndDeletesIt(t *testing.T) {
	e := newEnv(t)
	prov := &provisioner{credErr: errors.New("signing key missing")}
	_, err := e.room(t, prov, nil).Acquire(context.Background(), "good")
	var te *core.TransportError
	if !errors.As(err, &te) || te.Room != "vai-r1" {
		t.Fatalf("err=%v, want TransportError for vai-r1", err)
	}
	if !strings.Contains(err.Error(), "vai-r1") {
		t.Fatalf("message %q does not name the room", err.Error())
	}
	if got := prov.Deleted(); len(got) != 1 || got[0] != "vai-r1" {
		t.Fatalf("deleted=%v, want [vai-r1]", got)
	}
	if e.registry.Count() != 0 {
		t.Fatalf("count=%d, want 0", e.registry.Count())
	}
}

func TestRoom_ConcurrentSessionLimit(t *testing.T) {
	e := newEnv(t)
	n := e.room(t, &provisioner{}, ratelimit.New(ratelimit.Config{MaxConcurrentSessions: 1}))

	g, err := n.Acquire(context.Background(), "good")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_, err = n.Acquire(context.Background(), "good")
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrRateLimit {
		t.Fatalf("err=%v, want rate limit error", err)
	}

	if err := e.orch.Cancel(context.Background(), g.SessionID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := n.Acquire(context.Background(), "good"); err != nil {
		t.Fatalf("Acquire after cancel: %v", err)
	}
}

func TestRoom_UnknownUserRunsUnpersonalized(t *testing.T) {
	e := newEnv(t)
	n := e.room(t, &provisioner{}, nil)
	n.verifier = tokens{"good": "stranger"}

	g, err := n.Acquire(context.Background(), "good")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s, ok := e.orch.Lookup(g.SessionID)
	if !ok {
		t.Fatalf("session not registered")
	}
	if s.User() != nil {
		t.Fatalf("user=%+v, want nil", s.User())
	}
	if s.Subject() != "stranger" {
		t.Fatalf("subject=%q, want stranger", s.Subject())
	}
}

type peerFactory struct {
	mu      sync.Mutex
	created []*fakePeer
	delay   time.Duration
	err     error
	calls   atomic.Int32
}

func (f *peerFactory) New(id string) (PeerConn, error) {
	f.calls.Add(1)
	fake := transporttest.New(transport.KindPeer, id)
	// A peer only counts as connected once it has produced an answer.
	fake.SetConnected(false)
	p := &fakePeer{Fake: fake, delay: f.delay, err: f.err}
	f.mu.Lock()
	f.created = append(f.created, p)
	f.mu.Unlock()
	return p, nil
}

func (e *env) peer(t *testing.T, f *peerFactory) *Peer {
	t.Helper()
	n, err := NewPeer(PeerConfig{
		Verifier:     tokens{"good": "u1"},
		Users:        users{},
		Orchestrator: e.orch,
		NewPeer:      f.New,
		Logger:       discard,
	})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	return n
}

func TestPeer_FirstOfferCreatesSession(t *testing.T) {
	e := newEnv(t)
	n := e.peer(t, &peerFactory{})

	a, err := n.Negotiate(context.Background(), Offer{SDP: "o1", Type: "offer", Credential: "good"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if a.ConnectionID == "" || a.SessionID == "" || a.Renegotiated {
		t.Fatalf("answer=%+v", a)
	}
	if a.SDP != "answer:o1" || a.Type != "answer" {
		t.Fatalf("sdp=%q type=%q", a.SDP, a.Type)
	}
	if n.Connections() != 1 {
		t.Fatalf("connections=%d, want 1", n.Connections())
	}
}

func TestPeer_RenegotiationReusesConnection(t *testing.T) {
	e := newEnv(t)
	f := &peerFactory{}
	n := e.peer(t, f)

	first, err := n.Negotiate(context.Background(), Offer{SDP: "o1", Type: "offer", Credential: "good"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	// Renegotiation does not re-authenticate.
	second, err := n.Negotiate(context.Background(), Offer{SDP: "o2", Type: "offer", ConnectionID: first.ConnectionID})
	if err != nil {
		t.Fatalf("renegotiate: %v", err)
	}
	if !second.Renegotiated || second.SessionID != first.SessionID {
		t.Fatalf("second=%+v, want renegotiation of %s", second, first.SessionID)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("factory calls=%d, want 1", f.calls.Load())
	}
	if e.registry.Count() != 1 {
		t.Fatalf("count=%d, want 1", e.registry.Count())
	}
}

func TestPeer_ConcurrentOffersForOneIDCreateOneSession(t *testing.T) {
	e := newEnv(t)
	f := &peerFactory{delay: 20 * time.Millisecond}
	n := e.peer(t, f)

	var wg sync.WaitGroup
	answers := make([]Answer, 4)
	errs := make([]error, 4)
	for i := range answers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answers[i], errs[i] = n.Negotiate(context.Background(), Offer{
				SDP: "o", Type: "offer", ConnectionID: "pc-shared", Credential: "good",
			})
		}()
	}
	wg.Wait()

	fresh := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
		if !answers[i].Renegotiated {
			fresh++
		}
		if answers[i].SessionID != answers[0].SessionID {
			t.Fatalf("session ids differ: %q vs %q", answers[i].SessionID, answers[0].SessionID)
		}
	}
	if fresh != 1 {
		t.Fatalf("fresh sessions=%d, want 1", fresh)
	}
	if e.registry.Count() != 1 || f.calls.Load() != 1 {
		t.Fatalf("count=%d factory=%d, want 1 and 1", e.registry.Count(), f.calls.Load())
	}
	if n.locks.size() != 0 {
		t.Fatalf("locks=%d, want 0", n.locks.size())
	}
}

func TestPeer_NegotiationFailureClosesConnection(t *testing.T) {
	e := newEnv(t)
	f := &peerFactory{err: errors.New("bad sdp")}
	n := e.peer(t, f)

	_, err := n.Negotiate(context.Background(), Offer{SDP: "x", Type: "offer", Credential: "good"})
	var te *core.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err=%v, want TransportError", err)
	}
	if f.created[0].CloseCalls() != 1 {
		t.Fatalf("close calls=%d, want 1", f.created[0].CloseCalls())
	}
	if n.Connections() != 0 || e.registry.Count() != 0 {
		t.Fatalf("connections=%d count=%d, want 0", n.Connections(), e.registry.Count())
	}
}

func TestPeer_AuthFailureCreatesNothing(t *testing.T) {
	e := newEnv(t)
	f := &peerFactory{}
	n := e.peer(t, f)

	_, err := n.Negotiate(context.Background(), Offer{SDP: "x", Type: "offer", ConnectionID: "pc-9", Credential: "nope"})
	var ae *core.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v, want AuthError", err)
	}
	if f.calls.Load() != 0 || n.Connections() != 0 {
		t.Fatalf("factory=%d connections=%d, want 0", f.calls.Load(), n.Connections())
	}
}

func TestPeer_RecordDroppedWhenSessionEnds(t *testing.T) {
	e := newEnv(t)
	f := &peerFactory{}
	n := e.peer(t, f)

	a, err := n.Negotiate(context.Background(), Offer{SDP: "o1", Type: "offer", Credential: "good"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	s, ok := e.orch.Lookup(a.SessionID)
	if !ok {
		t.Fatalf("session not registered")
	}
	if got := n.CloseAll(); got != 1 {
		t.Fatalf("closed=%d, want 1", got)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not end after connection close")
	}
	if s.Outcome() != session.OutcomeCancelled {
		t.Fatalf("outcome=%v, want cancelled", s.Outcome())
	}
	if n.Connections() != 0 {
		t.Fatalf("connections=%d, want 0", n.Connections())
	}
}

func TestPeer_ConnectionIDTooLong(t *testing.T) {
	e := newEnv(t)
	n := e.peer(t, &peerFactory{})
	_, err := n.Negotiate(context.Background(), Offer{ConnectionID: strings.Repeat("x", 200)})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrInvalidRequest {
		t.Fatalf("err=%v, want invalid request", err)
	}
}
