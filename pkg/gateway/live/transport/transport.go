// Package transport defines the live media transport contract and its two
// implementations: a direct peer connection and a managed-room bot.
package transport

import (
	"context"
	"errors"
	"sync"
)

// Kind identifies the transport strategy.
type Kind string

const (
	KindPeer Kind = "peer"
	KindRoom Kind = "room"
)

// Event is a connection lifecycle event.
type Event int

const (
	// EventClientReady fires once the remote client can receive audio.
	EventClientReady Event = iota + 1
	// EventParticipantLeft fires when the remote participant leaves or the
	// peer disconnects. It is the teardown trigger.
	EventParticipantLeft
	// EventClosed fires when the transport has released its resources.
	EventClosed
)

func (e Event) String() string {
	switch e {
	case EventClientReady:
		return "client_ready"
	case EventParticipantLeft:
		return "participant_left"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives lifecycle events for the session a transport is bound to.
// The session id is passed explicitly.
type Handler func(sessionID string, ev Event)

// AudioFormat describes inbound audio.
type AudioFormat struct {
	Encoding   string // "linear16" or "opus" (Ogg framed)
	SampleRate int
	// Header is stream preamble the transcriber must receive before any
	// audio.
	Header []byte
}

// ErrNotConnected is returned by operations on a transport that is not
// connected yet or already closed.
var ErrNotConnected = errors.New("transport not connected")

// Transport is a negotiated media connection for one session.
type Transport interface {
	Kind() Kind
	// ID is the connection id (peer) or room name (room).
	ID() string
	Connected() bool

	// RequiresReadyHandshake reports whether SetBotReady must be called
	// before the first utterance.
	RequiresReadyHandshake() bool
	SetBotReady(ctx context.Context) error

	InboundAudio() <-chan []byte
	InboundFormat() AudioFormat
	WriteAudio(ctx context.Context, pcm []byte, sampleRate int) error
	// SendMessage delivers a JSON-encodable app message to the client.
	SendMessage(ctx context.Context, v any) error

	// Bind attaches the session. Events raised before Bind are replayed.
	Bind(sessionID string, h Handler)
	Close() error
}

// Dispatcher holds the bound handler and buffers events raised before Bind.
// Each event kind is delivered at most once per transport.
type Dispatcher struct {
	mu        sync.Mutex
	sessionID string
	handler   Handler
	pending   []Event
	fired     map[Event]bool
}

// Bind attaches h and replays buffered events in order.
func (d *Dispatcher) Bind(sessionID string, h Handler) {
	d.mu.Lock()
	d.sessionID = sessionID
	d.handler = h
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, ev := range pending {
		h(sessionID, ev)
	}
}

// Emit delivers ev to the bound handler, or buffers it. Duplicate events are
// dropped.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	if d.fired == nil {
		d.fired = map[Event]bool{}
	}
	if d.fired[ev] {
		d.mu.Unlock()
		return
	}
	d.fired[ev] = true
	h, id := d.handler, d.sessionID
	if h == nil {
		d.pending = append(d.pending, ev)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	h(id, ev)
}

// SessionID returns the bound session id, if any.
func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}
