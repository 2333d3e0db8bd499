package pipeline

import (
	"context"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// UserAggregator folds final transcriptions into the history and asks the
// model stage to reply.
type UserAggregator struct {
	history *Context
}

func (a *UserAggregator) Name() string { return StageUserAggregator }

// Context returns the shared history.
func (a *UserAggregator) Context() *Context { return a.history }

func (a *UserAggregator) Process(_ context.Context, f Frame, push PushFunc) error {
	tf, ok := f.(TranscriptionFrame)
	if !ok {
		push(f)
		return nil
	}
	if !tf.Final {
		return nil
	}
	a.history.Append(types.UserMessage(tf.Text))
	push(LLMContextFrame{})
	return nil
}

// AssistantAggregator folds what the agent said into the history. It is the
// chain's sink.
type AssistantAggregator struct {
	history *Context
	buf     strings.Builder
}

func (a *AssistantAggregator) Name() string { return StageAssistantAggregator }

// Context returns the shared history.
func (a *AssistantAggregator) Context() *Context { return a.history }

func (a *AssistantAggregator) Process(_ context.Context, f Frame, _ PushFunc) error {
	switch v := f.(type) {
	case LLMResponseStartFrame:
		a.buf.Reset()
	case TextFrame:
		a.buf.WriteString(v.Text)
	case LLMResponseEndFrame:
		a.history.Append(types.AssistantMessage(strings.TrimSpace(a.buf.String())))
		a.buf.Reset()
	case SpokenFrame:
		a.history.Append(types.AssistantMessage(v.Text))
	}
	return nil
}

// Aggregators is the user/assistant pair sharing one history.
type Aggregators struct {
	User      *UserAggregator
	Assistant *AssistantAggregator
}

// NewAggregators creates a pair over history.
func NewAggregators(history *Context) Aggregators {
	return Aggregators{
		User:      &UserAggregator{history: history},
		Assistant: &AssistantAggregator{history: history},
	}
}

// History returns the accumulated turns, system prompt included.
func (a Aggregators) History() []types.Message {
	return a.User.history.Messages()
}
