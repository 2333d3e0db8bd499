// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

// Fake is a scriptable transport. Audio pushed with PushAudio is delivered
// inbound; written audio and app messages are recorded.
type Fake struct {
	transport.Dispatcher

	kind      transport.Kind
	id        string
	handshake bool
	format    transport.AudioFormat
	connected atomic.Bool

	audioIn   chan []byte
	closeOnce sync.Once

	mu           sync.Mutex
	written      [][]byte
	messages     []any
	readyCalls   int
	closeCalls   int
	renegotiated int
	log          []string
}

// New returns a connected fake.
func New(kind transport.Kind, id string) *Fake {
	f := &Fake{
		kind:      kind,
		id:        id,
		handshake: kind == transport.KindRoom,
		format:    transport.AudioFormat{Encoding: "linear16", SampleRate: 16000},
		audioIn:   make(chan []byte, 64),
	}
	f.connected.Store(true)
	return f
}

func (f *Fake) Kind() transport.Kind                 { return f.kind }
func (f *Fake) ID() string                           { return f.id }
func (f *Fake) Connected() bool                      { return f.connected.Load() }
func (f *Fake) SetConnected(v bool)                  { f.connected.Store(v) }
func (f *Fake) RequiresReadyHandshake() bool         { return f.handshake }
func (f *Fake) InboundAudio() <-chan []byte          { return f.audioIn }
func (f *Fake) InboundFormat() transport.AudioFormat { return f.format }

// SetInboundFormat changes the reported inbound format. Call it before the
// pipeline is built.
func (f *Fake) SetInboundFormat(format transport.AudioFormat) { f.format = format }

func (f *Fake) SetBotReady(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyCalls++
	f.log = append(f.log, "bot-ready")
	return nil
}

func (f *Fake) WriteAudio(_ context.Context, pcm []byte, _ int) error {
	if !f.Connected() {
		return transport.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), pcm...))
	f.log = append(f.log, "audio:"+string(pcm))
	return nil
}

func (f *Fake) SendMessage(_ context.Context, v any) error {
	if !f.Connected() {
		return transport.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v)
	return nil
}

// Renegotiate records a renegotiation.
func (f *Fake) Renegotiate() {
	f.mu.Lock()
	f.renegotiated++
	f.mu.Unlock()
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		f.connected.Store(false)
		close(f.audioIn)
		f.Emit(transport.EventClosed)
	})
	return nil
}

// PushAudio delivers inbound audio.
func (f *Fake) PushAudio(b []byte) { f.audioIn <- b }

// Written returns the audio written so far.
func (f *Fake) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// Messages returns app messages sent so far.
func (f *Fake) Messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.messages...)
}

// Log returns the ordered record of ready handshakes and audio writes.
func (f *Fake) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *Fake) ReadyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyCalls
}

func (f *Fake) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *Fake) Renegotiations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renegotiated
}
