package transport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/vango-go/vai-voice/pkg/gateway/live/livetest"
	"github.com/vango-go/vai-voice/pkg/gateway/live/pipeline"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// client is the browser side of a peer connection: a receive-only audio
// transceiver plus the app-message data channel.
type client struct {
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	opened   chan struct{}
	messages chan string
	tracks   chan string
}

func newClient(t *testing.T) *client {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	dc, err := pc.CreateDataChannel("rtvi", nil)
	if err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	c := &client{
		pc:       pc,
		dc:       dc,
		opened:   make(chan struct{}),
		messages: make(chan string, 8),
		tracks:   make(chan string, 1),
	}
	dc.OnOpen(func() { close(c.opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.messages <- string(msg.Data):
		default:
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		select {
		case c.tracks <- track.Codec().MimeType:
		default:
		}
	})
	return c
}

func (c *client) offer(t *testing.T) transport.Description {
	t.Helper()
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatalf("client ICE gathering timed out")
	}
	local := c.pc.LocalDescription()
	return transport.Description{SDP: local.SDP, Type: local.Type.String()}
}

func (c *client) accept(t *testing.T, answer transport.Description) {
	t.Helper()
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(answer.Type),
		SDP:  answer.SDP,
	}); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
}

func newPeer(t *testing.T, id string) *transport.Peer {
	t.Helper()
	p, err := transport.NewPeer(id, transport.PeerConfig{Logger: discard})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func negotiate(t *testing.T, p *transport.Peer, offer transport.Description) transport.Description {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := p.Negotiate(ctx, offer)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	return answer
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPeer_AnswerAllowsPipelineBeforeMediaFlows(t *testing.T) {
	c := newClient(t)
	p := newPeer(t, "pc-1")

	answer := negotiate(t, p, c.offer(t))
	if answer.Type != "answer" {
		t.Fatalf("type=%q, want answer", answer.Type)
	}
	if !strings.Contains(answer.SDP, "PCMU/8000") {
		t.Fatalf("answer does not select PCMU:\n%s", answer.SDP)
	}
	if !p.Connected() {
		t.Fatalf("Connected()=false after answer, want true")
	}
	// The client has not applied the answer, so no media can flow yet.
	if err := p.WriteAudio(context.Background(), make([]byte, 320), 8000); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("WriteAudio err=%v, want ErrNotConnected", err)
	}

	pl, err := pipeline.Build(p, livetest.Set(), "sys", pipeline.WithLogger(discard))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if pl.Transport != transport.Transport(p) {
		t.Fatalf("pipeline bound to a different transport")
	}
	if f := p.InboundFormat(); f.Encoding != "linear16" || f.SampleRate != 8000 {
		t.Fatalf("inbound format=%+v, want linear16/8000", f)
	}
}

func TestPeer_RejectsNonOffer(t *testing.T) {
	p := newPeer(t, "pc-1")
	_, err := p.Negotiate(context.Background(), transport.Description{SDP: "v=0", Type: "answer"})
	if err == nil {
		t.Fatalf("expected error for answer-typed description")
	}
	if p.Connected() {
		t.Fatalf("Connected()=true after failed negotiation")
	}
}

func TestPeer_ClientReadyAudioAndRenegotiation(t *testing.T) {
	c := newClient(t)
	p := newPeer(t, "pc-1")
	events := make(chan transport.Event, 8)

	c.accept(t, negotiate(t, p, c.offer(t)))

	select {
	case <-c.opened:
	case <-time.After(10 * time.Second):
		t.Fatalf("data channel did not open")
	}
	if err := c.dc.SendText(`{"label":"rtvi-ai","type":"client-ready"}`); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	// Binding after the event exercises replay of buffered events.
	waitFor(t, "data channel on the peer", func() bool {
		return p.SendMessage(context.Background(), map[string]string{"type": "ping"}) == nil
	})
	p.Bind("s1", func(id string, ev transport.Event) {
		if id == "s1" {
			events <- ev
		}
	})
	select {
	case ev := <-events:
		if ev != transport.EventClientReady {
			t.Fatalf("event=%v, want client_ready", ev)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("client-ready not delivered")
	}

	if err := p.SetBotReady(context.Background()); err != nil {
		t.Fatalf("SetBotReady: %v", err)
	}
	waitFor(t, "bot-ready at the client", func() bool {
		for {
			select {
			case msg := <-c.messages:
				if strings.Contains(msg, `"bot-ready"`) {
					return true
				}
			default:
				return false
			}
		}
	})

	// 24 kHz synthesized speech is resampled into 8 kHz PCMU frames.
	tone := make([]byte, 4800)
	var mime string
	waitFor(t, "outbound audio track", func() bool {
		if err := p.WriteAudio(context.Background(), tone, 24000); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			t.Fatalf("WriteAudio: %v", err)
		}
		select {
		case mime = <-c.tracks:
			return true
		default:
			return false
		}
	})
	if !strings.EqualFold(mime, webrtc.MimeTypePCMU) {
		t.Fatalf("client track codec=%q, want PCMU", mime)
	}

	// A second offer on the same connection renegotiates in place.
	c.accept(t, negotiate(t, p, c.offer(t)))
	if !p.Connected() {
		t.Fatalf("Connected()=false after renegotiation")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Connected() {
		t.Fatalf("Connected()=true after Close")
	}
	waitFor(t, "closed event", func() bool {
		for {
			select {
			case ev := <-events:
				if ev == transport.EventClosed {
					return true
				}
			default:
				return false
			}
		}
	})
	if _, err := p.Negotiate(context.Background(), c.offer(t)); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Negotiate after Close err=%v, want ErrNotConnected", err)
	}
}
