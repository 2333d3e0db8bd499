// Package memory consolidates a finished conversation into the user's
// long-term memory text.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Summarizer turns a conversation and the prior memory into new memory text.
type Summarizer interface {
	Summarize(ctx context.Context, history []types.Message, prior string) (string, error)
}

// Persister writes the consolidated memory for a subject.
type Persister interface {
	PersistMemory(ctx context.Context, subject, memory string) error
}

// Trigger runs consolidation at session end.
type Trigger struct {
	summarizer Summarizer
	store      Persister
	logger     *slog.Logger
	timeout    time.Duration
	onFallback func()

	fallbacks atomic.Int64
}

type Option func(*Trigger)

func WithLogger(l *slog.Logger) Option { return func(t *Trigger) { t.logger = l } }

// WithTimeout bounds the summarize+persist step. Zero means no bound beyond
// the caller's context.
func WithTimeout(d time.Duration) Option { return func(t *Trigger) { t.timeout = d } }

// WithFallbackHook is called whenever the prior memory is kept because
// summarization failed.
func WithFallbackHook(fn func()) Option { return func(t *Trigger) { t.onFallback = fn } }

func NewTrigger(s Summarizer, store Persister, opts ...Option) *Trigger {
	t := &Trigger{summarizer: s, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fallbacks reports how many consolidations kept the prior memory.
func (t *Trigger) Fallbacks() int64 { return t.fallbacks.Load() }

// Consolidate summarizes history together with user's prior memory and
// persists the result. Summarizer failures fall back to the prior memory
// unchanged; the returned text is what was persisted. A history without
// conversational turns leaves memory untouched.
func (t *Trigger) Consolidate(ctx context.Context, user types.UserContext, history []types.Message) (string, error) {
	if user.Subject == "" {
		return user.Memory, errors.New("memory: no subject")
	}
	turns := types.Conversational(history)
	if len(turns) == 0 {
		t.logger.Debug("nothing to consolidate", "subject", user.Subject)
		return user.Memory, nil
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	memory := user.Memory
	if t.summarizer == nil {
		t.fallback(user.Subject, errors.New("no summarizer configured"))
	} else if text, err := t.summarizer.Summarize(ctx, turns, user.Memory); err != nil {
		t.fallback(user.Subject, err)
	} else if text = strings.TrimSpace(text); text == "" {
		t.fallback(user.Subject, errors.New("empty summary"))
	} else {
		memory = text
	}

	if t.store == nil {
		return memory, errors.New("memory: no store configured")
	}
	if err := t.store.PersistMemory(ctx, user.Subject, memory); err != nil {
		return memory, fmt.Errorf("memory: persist: %w", err)
	}
	t.logger.Info("memory consolidated", "subject", user.Subject, "turns", len(turns), "chars", len(memory))
	return memory, nil
}

func (t *Trigger) fallback(subject string, err error) {
	t.fallbacks.Add(1)
	if t.onFallback != nil {
		t.onFallback()
	}
	t.logger.Warn("memory summarization failed, keeping prior memory", "subject", subject, "error", err)
}

// FormatConversation renders turns as "role: text" lines.
func FormatConversation(turns []types.Message) string {
	var sb strings.Builder
	for _, m := range turns {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteByte('\n')
	}
	return sb.String()
}
