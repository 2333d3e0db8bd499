package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/providers"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/live/pipeline"
	"github.com/vango-go/vai-voice/pkg/gateway/live/prompt"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

// DefaultConsolidateTimeout bounds end-of-session memory consolidation.
const DefaultConsolidateTimeout = 90 * time.Second

// Resolver turns a provider configuration into capability handles.
type Resolver interface {
	Resolve(cfg types.ProviderConfig) providers.Set
}

// Consolidator folds a finished conversation into the user's memory.
type Consolidator interface {
	Consolidate(ctx context.Context, user types.UserContext, history []types.Message) (string, error)
}

// Hooks observe session lifecycle. Nil funcs are skipped.
type Hooks struct {
	Started func(kind transport.Kind)
	Ended   func(kind transport.Kind, outcome Outcome)
}

// Config wires an Orchestrator.
type Config struct {
	Resolver Resolver
	Registry *sessions.Registry
	// Memory may be nil, in which case sessions end without consolidation.
	Memory             Consolidator
	Profile            types.AgentProfile
	ConsolidateTimeout time.Duration
	PipelineOptions    []pipeline.Option
	Hooks              Hooks
	Logger             *slog.Logger
}

// Orchestrator creates sessions and drives them to termination.
type Orchestrator struct {
	resolver           Resolver
	registry           *sessions.Registry
	memory             Consolidator
	profile            types.AgentProfile
	consolidateTimeout time.Duration
	pipelineOpts       []pipeline.Option
	hooks              Hooks
	logger             *slog.Logger
	now                func() time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("session: resolver is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConsolidateTimeout <= 0 {
		cfg.ConsolidateTimeout = DefaultConsolidateTimeout
	}
	return &Orchestrator{
		resolver:           cfg.Resolver,
		registry:           cfg.Registry,
		memory:             cfg.Memory,
		profile:            cfg.Profile.WithDefaults(),
		consolidateTimeout: cfg.ConsolidateTimeout,
		pipelineOpts:       cfg.PipelineOptions,
		hooks:              cfg.Hooks,
		logger:             cfg.Logger,
		now:                time.Now,
	}, nil
}

// Request describes a session to create.
type Request struct {
	Transport transport.Transport
	Subject   string
	// User is the snapshot fetched from the store. Nil runs the session
	// without personalization or memory.
	User *types.UserContext
	// Providers overrides the profile's provider selection.
	Providers *types.ProviderConfig
	// Release is called once the session has been reaped.
	Release func()
}

// Create builds the session's pipeline, registers it and starts its
// execution loop. On error nothing is registered and the transport is left
// to the caller.
func (o *Orchestrator) Create(ctx context.Context, req Request) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr := req.Transport
	subject := req.Subject
	if subject == "" && req.User != nil {
		subject = req.User.Subject
	}
	s := newSession(uuid.NewString(), subject, req.User, tr, o.now())
	logger := o.logger.With("session_id", s.id)

	cfg := o.profile.Providers
	if req.Providers != nil {
		cfg = *req.Providers
	}
	caps := o.resolver.Resolve(cfg)
	systemPrompt := prompt.For(o.profile, req.User)

	opts := make([]pipeline.Option, 0, len(o.pipelineOpts)+1)
	opts = append(opts, o.pipelineOpts...)
	opts = append(opts, pipeline.WithLogger(logger))
	p, err := pipeline.Build(tr, caps, systemPrompt, opts...)
	if err != nil {
		logger.Error("pipeline init failed", "error", err)
		return nil, err
	}
	s.pipeline = p
	s.task = pipeline.NewTask(p, logger)

	unregister, err := o.registry.Register(s)
	if errors.Is(err, sessions.ErrDraining) {
		return nil, apierror.ErrDraining
	}
	if err != nil {
		return nil, &core.PipelineInitError{Stage: "register", Err: err}
	}

	tr.Bind(s.id, o.handleEvent)
	s.markRunning()
	if o.hooks.Started != nil {
		o.hooks.Started(tr.Kind())
	}
	logger.Info("session started", "transport", string(tr.Kind()), "connection", tr.ID(), "subject", subject)

	go o.run(s, unregister, req.Release, logger)
	return s, nil
}

func (o *Orchestrator) run(s *Session, unregister func(string, error), release func(), logger *slog.Logger) {
	runErr := s.task.Run(s.ctx)
	outcome, err := s.finish(runErr)

	if err != nil {
		logger.Error("session failed", "error", err)
	} else {
		logger.Info("session ended", "outcome", outcome.String())
	}
	unregister(outcome.String(), err)
	if cerr := s.transport.Close(); cerr != nil {
		logger.Debug("transport close", "error", cerr)
	}
	if release != nil {
		release()
	}
	if o.hooks.Ended != nil {
		o.hooks.Ended(s.transport.Kind(), outcome)
	}
	close(s.done)
}

// Cancel cancels the session with id and waits for it to terminate or ctx
// to end. A recently reaped id is a no-op; an unknown id is
// core.ErrSessionNotFound.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	e, ok := o.registry.Lookup(id)
	if !ok {
		if _, reaped := o.registry.Reaped(id); reaped {
			return nil
		}
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	e.Cancel()
	s, ok := e.(*Session)
	if !ok {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the live session with id.
func (o *Orchestrator) Lookup(id string) (*Session, bool) {
	e, ok := o.registry.Lookup(id)
	if !ok {
		return nil, false
	}
	s, ok := e.(*Session)
	return s, ok
}

// handleEvent receives transport lifecycle events. Handlers run on their
// own goroutine so transport callbacks never block on teardown.
func (o *Orchestrator) handleEvent(sessionID string, ev transport.Event) {
	s, ok := o.Lookup(sessionID)
	if !ok {
		o.logger.Debug("event for unknown session", "session_id", sessionID, "event", ev.String())
		return
	}
	switch ev {
	case transport.EventClientReady:
		go o.onClientReady(s)
	case transport.EventParticipantLeft:
		go o.onParticipantLeft(s)
	case transport.EventClosed:
		go s.Cancel()
	}
}

func (o *Orchestrator) onClientReady(s *Session) {
	logger := o.logger.With("session_id", s.id)
	tr := s.transport
	if tr.RequiresReadyHandshake() {
		if err := tr.SetBotReady(s.ctx); err != nil {
			logger.Warn("bot ready handshake failed", "error", err)
		}
	}
	var frames []pipeline.Frame
	if tr.Kind() == transport.KindPeer {
		frames = append(frames, pipeline.LLMContextFrame{})
	}
	frames = append(frames, pipeline.TTSSpeakFrame{Text: o.profile.FirstMessage})
	if err := s.Queue(frames...); err != nil {
		logger.Debug("first message not queued", "error", err)
		return
	}
	logger.Info("client ready, conversation started")
}

// onParticipantLeft is the teardown path: consolidate memory, then cancel.
func (o *Orchestrator) onParticipantLeft(s *Session) {
	logger := o.logger.With("session_id", s.id)
	if !s.claimTeardown(OutcomeCompleted) {
		logger.Debug("participant left during teardown")
		return
	}
	logger.Info("participant left")

	if o.memory != nil && s.user != nil {
		history := s.pipeline.Aggregators.History()
		ctx, cancel := context.WithTimeout(context.Background(), o.consolidateTimeout)
		s.consolidations.Add(1)
		if _, err := o.memory.Consolidate(ctx, *s.user, history); err != nil {
			logger.Error("memory consolidation failed", "error", err)
		}
		cancel()
	}
	s.task.Cancel()
}
