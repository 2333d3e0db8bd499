package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// DefaultSTUNServer is the ICE server deployments fall back to.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Description is an SDP offer or answer as exchanged with the client.
type Description struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// PeerConfig configures peer connections.
type PeerConfig struct {
	// ICEServers lists STUN/TURN urls. Empty gathers host candidates only.
	ICEServers []string
	Logger     *slog.Logger
}

// Peer is a direct WebRTC connection with one client. Audio flows as G.711
// mu-law in both directions.
type Peer struct {
	Dispatcher

	id     string
	pc     *webrtc.PeerConnection
	codec  *pcmu
	logger *slog.Logger

	out     *webrtc.TrackLocalStaticSample
	audioIn chan []byte

	// negotiated is set once an answer has been produced; flowing is set
	// while the connection is established end to end.
	negotiated atomic.Bool
	flowing    atomic.Bool
	closed     chan struct{}
	closeOnce  sync.Once

	negMu sync.Mutex

	dcMu sync.Mutex
	dc   *webrtc.DataChannel
}

// NewPeer creates an unnegotiated peer connection identified by id.
func NewPeer(id string, cfg PeerConfig) (*Peer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var conf webrtc.Configuration
	if len(cfg.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: pcmuCapability,
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register pcmu: %w", err)
	}
	pc, err := webrtc.NewAPI(webrtc.WithMediaEngine(engine)).NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	out, err := webrtc.NewTrackLocalStaticSample(pcmuCapability, "audio", "vai-voice")
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new output track: %w", err)
	}
	if _, err := pc.AddTrack(out); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add output track: %w", err)
	}

	p := &Peer{
		id:      id,
		pc:      pc,
		codec:   &pcmu{},
		logger:  cfg.Logger.With("connection_id", id),
		out:     out,
		audioIn: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
	pc.OnConnectionStateChange(p.onStateChange)
	pc.OnTrack(p.onTrack)
	pc.OnDataChannel(p.onDataChannel)
	return p, nil
}

var pcmuCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuRate}

func (p *Peer) Kind() Kind { return KindPeer }
func (p *Peer) ID() string { return p.id }

// Connected reports whether an answer has been produced and the peer is not
// closed. Media may still be establishing.
func (p *Peer) Connected() bool {
	select {
	case <-p.closed:
		return false
	default:
		return p.negotiated.Load()
	}
}

func (p *Peer) RequiresReadyHandshake() bool { return false }
func (p *Peer) InboundAudio() <-chan []byte  { return p.audioIn }
func (p *Peer) InboundFormat() AudioFormat   { return p.codec.Format() }

// Negotiate applies a remote offer and returns the local answer once ICE
// gathering completes. It serves both the first offer and renegotiations.
func (p *Peer) Negotiate(ctx context.Context, offer Description) (Description, error) {
	p.negMu.Lock()
	defer p.negMu.Unlock()

	select {
	case <-p.closed:
		return Description{}, ErrNotConnected
	default:
	}

	typ := webrtc.NewSDPType(offer.Type)
	if typ != webrtc.SDPTypeOffer {
		return Description{}, fmt.Errorf("unexpected sdp type %q", offer.Type)
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: offer.SDP}); err != nil {
		return Description{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return Description{}, fmt.Errorf("set local description: %w", err)
	}
	p.negotiated.Store(true)
	select {
	case <-gathered:
	case <-ctx.Done():
		return Description{}, ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return Description{}, errors.New("no local description")
	}
	return Description{SDP: local.SDP, Type: local.Type.String()}, nil
}

func (p *Peer) SetBotReady(ctx context.Context) error {
	return p.SendMessage(ctx, readyMessage("bot-ready"))
}

// WriteAudio sends 16-bit mono PCM at sampleRate. It fails with
// ErrNotConnected until media is flowing.
func (p *Peer) WriteAudio(_ context.Context, pcm []byte, sampleRate int) error {
	if !p.Connected() || !p.flowing.Load() {
		return ErrNotConnected
	}
	payload, err := p.codec.Encode(pcm, sampleRate)
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	return pcmuFrames(payload, func(data []byte, d time.Duration) error {
		return p.out.WriteSample(media.Sample{Data: data, Duration: d})
	})
}

func (p *Peer) SendMessage(_ context.Context, v any) error {
	p.dcMu.Lock()
	dc := p.dc
	p.dcMu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.SendText(string(b))
}

// Close tears down the peer connection. EventClosed is emitted once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.flowing.Store(false)
		close(p.closed)
		err = p.pc.Close()
		p.Emit(EventClosed)
	})
	return err
}

func (p *Peer) onStateChange(state webrtc.PeerConnectionState) {
	p.logger.Debug("peer connection state", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		p.flowing.Store(true)
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		p.flowing.Store(false)
		p.Emit(EventParticipantLeft)
	case webrtc.PeerConnectionStateClosed:
		p.flowing.Store(false)
		p.Emit(EventParticipantLeft)
		go p.Close()
	}
}

func (p *Peer) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypePCMU) {
		p.logger.Warn("ignoring inbound track", "codec", track.Codec().MimeType)
		return
	}
	p.logger.Info("inbound audio track", "codec", track.Codec().MimeType)
	go p.readTrack(track)
}

func (p *Peer) readTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("audio track ended", "error", err)
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := p.codec.Decode(pkt)
		if err != nil {
			p.logger.Debug("audio decode failed", "error", err)
			continue
		}
		select {
		case p.audioIn <- pcm:
		case <-p.closed:
			return
		default:
			// The pipeline is behind; drop rather than stall the track.
		}
	}
}

func (p *Peer) onDataChannel(dc *webrtc.DataChannel) {
	p.dcMu.Lock()
	p.dc = dc
	p.dcMu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if isClientReady(msg.Data) {
			p.Emit(EventClientReady)
		}
	})
}

// appMessage is the readiness envelope exchanged with the client SDK.
type appMessage struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
}

func readyMessage(typ string) appMessage {
	return appMessage{Label: "rtvi-ai", Type: typ}
}

func isClientReady(data []byte) bool {
	var msg appMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	return msg.Type == "client-ready"
}
