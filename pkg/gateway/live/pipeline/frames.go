// Package pipeline assembles and runs the per-session stage chain: audio in,
// transcription, turn aggregation, model reply, synthesis, audio out.
package pipeline

import "time"

// Frame is a unit flowing downstream through the stage chain.
type Frame interface {
	frame()
}

// AudioInFrame is inbound audio from the transport.
type AudioInFrame struct {
	Audio []byte
}

// AudioOutFrame is synthesized audio bound for the transport.
type AudioOutFrame struct {
	Audio      []byte
	SampleRate int
}

// TranscriptionFrame is recognized user speech.
type TranscriptionFrame struct {
	Text  string
	Final bool
	At    time.Time
}

// LLMContextFrame asks the model stage to reply to the current history. It
// is a no-op unless the newest turn is the user's.
type LLMContextFrame struct{}

// LLMResponseStartFrame opens a model reply.
type LLMResponseStartFrame struct{}

// TextFrame is a streamed piece of model reply.
type TextFrame struct {
	Text string
}

// LLMResponseEndFrame closes a model reply.
type LLMResponseEndFrame struct{}

// TTSSpeakFrame asks the synthesis stage to speak text verbatim, bypassing
// the model. It is recorded as an assistant turn once spoken.
type TTSSpeakFrame struct {
	Text string
}

// SpokenFrame reports text that was synthesized from a TTSSpeakFrame.
type SpokenFrame struct {
	Text string
}

func (AudioInFrame) frame()          {}
func (AudioOutFrame) frame()         {}
func (TranscriptionFrame) frame()    {}
func (LLMContextFrame) frame()       {}
func (LLMResponseStartFrame) frame() {}
func (TextFrame) frame()             {}
func (LLMResponseEndFrame) frame()   {}
func (TTSSpeakFrame) frame()         {}
func (SpokenFrame) frame()           {}
