// Package stt provides speech-to-text capability adapters.
package stt

import (
	"context"
)

// Transcriber is the speech-to-text capability. Implementations open one
// stream per session; audio is pushed in arrival order and transcripts are
// delivered on the stream's channel.
type Transcriber interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a streaming transcription session.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is a live transcription session.
type Stream interface {
	SendAudio(chunk []byte) error
	Transcripts() <-chan TranscriptDelta
	// Finalize flushes buffered audio and asks the provider to end the stream.
	Finalize() error
	Close() error
	Err() error
}

// StreamOptions configures transcription.
type StreamOptions struct {
	Model        string // Provider-specific model
	Language     string // Language code, "multi" for automatic detection where supported
	Encoding     string // Audio encoding (default: linear16 / pcm_s16le)
	SampleRate   int    // Audio sample rate in Hz
	Alternatives int    // Number of alternative hypotheses requested
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text       string  // Transcript for the segment
	IsFinal    bool    // True if this is a final segment
	Confidence float64 // Confidence of the top alternative, if reported
	Timestamp  float64 // Offset in seconds
}
