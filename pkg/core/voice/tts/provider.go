// Package tts provides text-to-speech capability adapters.
package tts

import (
	"context"
	"errors"
	"sync"
)

// Synthesizer is the text-to-speech capability.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to streaming audio. Chunks are raw PCM at
	// the returned stream's SampleRate.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Model        string  // Provider-specific model
	Voice        string  // Voice identifier
	Instructions string  // Style instructions, for providers that accept them
	Language     string  // Language code
	Speed        float64 // Speed multiplier
	SampleRate   int     // Requested output sample rate
}

// ErrStreamClosed is returned when sending to a closed stream.
var ErrStreamClosed = errors.New("synthesis stream closed")

// SynthesisStream provides streaming audio output.
type SynthesisStream struct {
	SampleRate int

	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	finish    sync.Once

	errMu sync.Mutex
	err   error
}

// NewSynthesisStream creates a new synthesis stream.
func NewSynthesisStream(sampleRate int) *SynthesisStream {
	return &SynthesisStream{
		SampleRate: sampleRate,
		chunks:     make(chan []byte, 100),
		done:       make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks. It is closed when synthesis
// finishes or fails.
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the synthesis error, if any. Call it after Chunks is drained.
func (s *SynthesisStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the producer. Safe to call more than once.
func (s *SynthesisStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed when the consumer has closed the stream.
func (s *SynthesisStream) Done() <-chan struct{} {
	return s.done
}

// SetError records the first producer error.
func (s *SynthesisStream) SetError(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Send sends a chunk to the stream. Returns false if stream is closed.
func (s *SynthesisStream) Send(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunks channel to signal completion.
func (s *SynthesisStream) FinishSending() {
	s.finish.Do(func() { close(s.chunks) })
}

// Collect drains a stream into one buffer.
func Collect(s *SynthesisStream) ([]byte, error) {
	defer s.Close()
	var out []byte
	for chunk := range s.Chunks() {
		out = append(out, chunk...)
	}
	return out, s.Err()
}
