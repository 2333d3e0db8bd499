// Package livetest provides deterministic capability handles for tests of
// the live session stack.
package livetest

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/providers"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

// Transcriber treats every inbound audio chunk as the UTF-8 text of one final
// utterance.
type Transcriber struct {
	OpenErr error
	opened  atomic.Int32
}

func (t *Transcriber) Name() string { return "fake-stt" }

func (t *Transcriber) Opened() int { return int(t.opened.Load()) }

func (t *Transcriber) NewStream(ctx context.Context, _ stt.StreamOptions) (stt.Stream, error) {
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	t.opened.Add(1)
	s := &stream{ctx: ctx, out: make(chan stt.TranscriptDelta, 16), done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.closeOut()
	}()
	return s, nil
}

type stream struct {
	ctx    context.Context
	mu     sync.Mutex
	out    chan stt.TranscriptDelta
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (s *stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrStreamClosed
	}
	select {
	case s.out <- stt.TranscriptDelta{Text: string(chunk), IsFinal: true}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-s.done:
		return stt.ErrStreamClosed
	}
}

func (s *stream) closeOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *stream) Transcripts() <-chan stt.TranscriptDelta { return s.out }
func (s *stream) Finalize() error                         { return nil }
func (s *stream) Err() error                              { return nil }
func (s *stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Replier answers "ok: <last user text>". Setting Err makes every reply fail.
type Replier struct {
	Err   error
	calls atomic.Int32
}

func (r *Replier) Name() string { return "fake-llm" }

func (r *Replier) Calls() int { return int(r.calls.Load()) }

func (r *Replier) Reply(_ context.Context, history []types.Message, _ llm.ReplyOptions) iter.Seq2[string, error] {
	r.calls.Add(1)
	return func(yield func(string, error) bool) {
		if r.Err != nil {
			yield("", r.Err)
			return
		}
		last := ""
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == types.RoleUser {
				last = history[i].Content
				break
			}
		}
		if !yield("ok: ", nil) {
			return
		}
		yield(last+".", nil)
	}
}

// Synthesizer returns the text bytes as a single audio chunk.
type Synthesizer struct {
	Err error
}

func (s *Synthesizer) Name() string { return "fake-tts" }

func (s *Synthesizer) Synthesize(_ context.Context, text string, _ tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := tts.NewSynthesisStream(16000)
	go func() {
		defer out.FinishSending()
		out.Send([]byte(text))
	}()
	return out, nil
}

// Set returns a capability set over fresh fakes.
func Set() providers.Set {
	return providers.Set{
		STT: &Transcriber{},
		LLM: &Replier{},
		TTS: &Synthesizer{},
	}
}

// ErrCapability is a canned capability failure.
var ErrCapability = errors.New("capability unavailable")
