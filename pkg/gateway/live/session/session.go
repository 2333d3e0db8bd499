// Package session runs one voice conversation from pipeline assembly to
// teardown.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/live/pipeline"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

// State is a session lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateCancelling
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome is how a terminated session ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return ""
	}
}

// Session is one conversation. Handles stay valid after termination but
// every operation on a terminated session fails with
// core.ErrSessionTerminated.
type Session struct {
	id        string
	subject   string
	user      *types.UserContext
	transport transport.Transport
	createdAt time.Time

	pipeline *pipeline.Pipeline
	task     *pipeline.Task

	// ctx ends when the session terminates.
	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	state   State
	pending Outcome
	outcome Outcome
	err     error
	done    chan struct{}

	consolidations atomic.Int32
}

func newSession(id, subject string, user *types.UserContext, tr transport.Transport, now time.Time) *Session {
	ctx, stop := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		subject:   subject,
		user:      user,
		transport: tr,
		createdAt: now,
		ctx:       ctx,
		stop:      stop,
		state:     StateInitializing,
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string                     { return s.id }
func (s *Session) Subject() string                { return s.subject }
func (s *Session) CreatedAt() time.Time           { return s.createdAt }
func (s *Session) Transport() transport.Transport { return s.transport }

// User returns the snapshot fetched at session start, or nil.
func (s *Session) User() *types.UserContext { return s.user }

// State implements sessions.Entry.
func (s *Session) State() string { return s.Current().String() }

// Current returns the lifecycle state.
func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal outcome, or OutcomeNone while live.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the failure that terminated the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session is terminated and reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session terminates and returns its failure, if any.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the conversation so far.
func (s *Session) History() ([]types.Message, error) {
	if s.terminated() {
		return nil, core.ErrSessionTerminated
	}
	return s.pipeline.Aggregators.History(), nil
}

// Queue injects frames at the head of the session's pipeline.
func (s *Session) Queue(frames ...pipeline.Frame) error {
	if s.terminated() {
		return core.ErrSessionTerminated
	}
	if err := s.task.QueueFrames(frames...); err != nil {
		if errors.Is(err, pipeline.ErrTaskDone) {
			return core.ErrSessionTerminated
		}
		return err
	}
	return nil
}

// Speak makes the agent say text without involving the model.
func (s *Session) Speak(text string) error {
	return s.Queue(pipeline.TTSSpeakFrame{Text: text})
}

// Cancel requests cancellation. Cancelling a session that is already
// tearing down or terminated is a no-op.
func (s *Session) Cancel() {
	if s.claimTeardown(OutcomeCancelled) {
		s.task.Cancel()
	}
}

// Consolidations reports how many times end-of-session memory
// consolidation ran.
func (s *Session) Consolidations() int { return int(s.consolidations.Load()) }

func (s *Session) terminated() bool {
	return s.Current() == StateTerminated
}

func (s *Session) markRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInitializing {
		s.state = StateRunning
	}
}

// claimTeardown moves a live session to Cancelling and records the outcome
// it will terminate with. Only the first caller wins.
func (s *Session) claimTeardown(outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing && s.state != StateRunning {
		return false
	}
	s.state = StateCancelling
	s.pending = outcome
	return true
}

// finish records the terminal state once the execution loop has returned.
func (s *Session) finish(runErr error) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateCancelling:
		s.outcome = s.pending
	case runErr != nil:
		s.outcome = OutcomeFailed
		s.err = runErr
	default:
		s.outcome = OutcomeCompleted
	}
	s.state = StateTerminated
	s.stop()
	return s.outcome, s.err
}
