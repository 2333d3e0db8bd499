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

	lksdk "github.com/livekit/server-sdk-go/v2"
	webrtc4 "github.com/pion/webrtc/v4"
	media4 "github.com/pion/webrtc/v4/pkg/media"
)

// BotIdentity is the participant identity the agent joins rooms with.
const BotIdentity = "vai-voice-bot"

// RoomConfig configures the bot side of a managed room.
type RoomConfig struct {
	// URL is the room server's websocket URL.
	URL string
	// Topic tags app messages sent to the client. Empty sends untagged.
	Topic  string
	Logger *slog.Logger
}

// Room is the agent's participant in a managed room. The client joins the
// same room with its own credential. Inbound Opus is forwarded Ogg framed;
// the agent publishes G.711 mu-law, so the room server must have audio/pcmu
// enabled.
type Room struct {
	Dispatcher

	name   string
	cfg    RoomConfig
	in     *oggOpus
	codec  *pcmu
	logger *slog.Logger

	room    *lksdk.Room
	out     *webrtc4.TrackLocalStaticSample
	audioIn chan []byte

	connected atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// JoinRoom connects the bot to room name using token.
func JoinRoom(ctx context.Context, name, token string, cfg RoomConfig) (*Room, error) {
	r, err := newRoom(name, cfg)
	if err != nil {
		return nil, err
	}

	cb := lksdk.NewRoomCallback()
	cb.OnParticipantDisconnected = r.onParticipantDisconnected
	cb.OnDisconnected = r.onDisconnected
	cb.ParticipantCallback.OnTrackSubscribed = r.onTrackSubscribed
	cb.ParticipantCallback.OnDataPacket = r.onDataPacket

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	room, err := lksdk.ConnectToRoomWithToken(cfg.URL, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", name, err)
	}
	r.room = room

	out, err := webrtc4.NewTrackLocalStaticSample(
		webrtc4.RTPCodecCapability{MimeType: webrtc4.MimeTypePCMU, ClockRate: pcmuRate},
		"audio", BotIdentity,
	)
	if err != nil {
		room.Disconnect()
		return nil, fmt.Errorf("new output track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(out, &lksdk.TrackPublicationOptions{Name: BotIdentity}); err != nil {
		room.Disconnect()
		return nil, fmt.Errorf("publish output track: %w", err)
	}
	r.out = out
	r.connected.Store(true)
	return r, nil
}

func newRoom(name string, cfg RoomConfig) (*Room, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	in, err := newOggOpus()
	if err != nil {
		return nil, err
	}
	return &Room{
		name:    name,
		cfg:     cfg,
		in:      in,
		codec:   &pcmu{},
		logger:  cfg.Logger.With("room", name),
		audioIn: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}, nil
}

func (r *Room) Kind() Kind                   { return KindRoom }
func (r *Room) ID() string                   { return r.name }
func (r *Room) Connected() bool              { return r.connected.Load() }
func (r *Room) RequiresReadyHandshake() bool { return true }
func (r *Room) InboundAudio() <-chan []byte  { return r.audioIn }
func (r *Room) InboundFormat() AudioFormat   { return r.in.Format() }

func (r *Room) SetBotReady(ctx context.Context) error {
	return r.SendMessage(ctx, readyMessage("bot-ready"))
}

func (r *Room) WriteAudio(_ context.Context, pcm []byte, sampleRate int) error {
	if !r.Connected() {
		return ErrNotConnected
	}
	payload, err := r.codec.Encode(pcm, sampleRate)
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	return pcmuFrames(payload, func(data []byte, d time.Duration) error {
		return r.out.WriteSample(media4.Sample{Data: data, Duration: d})
	})
}

func (r *Room) SendMessage(_ context.Context, v any) error {
	if !r.Connected() {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	opts := []lksdk.DataPublishOption{lksdk.WithDataPublishReliable(true)}
	if r.cfg.Topic != "" {
		opts = append(opts, lksdk.WithDataPublishTopic(r.cfg.Topic))
	}
	return r.room.LocalParticipant.PublishDataPacket(lksdk.UserData(b), opts...)
}

// Close leaves the room. EventClosed is emitted once.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		r.connected.Store(false)
		close(r.closed)
		if r.room != nil {
			r.room.Disconnect()
		}
		r.Emit(EventClosed)
	})
	return nil
}

func (r *Room) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	if rp.Identity() == BotIdentity {
		return
	}
	r.logger.Info("participant left", "participant", rp.Identity())
	r.Emit(EventParticipantLeft)
}

func (r *Room) onDisconnected() {
	r.logger.Info("disconnected from room")
	go r.Close()
}

func (r *Room) onTrackSubscribed(track *webrtc4.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc4.RTPCodecTypeAudio {
		return
	}
	if !strings.EqualFold(track.Codec().MimeType, webrtc4.MimeTypeOpus) {
		r.logger.Warn("ignoring inbound track", "participant", rp.Identity(), "codec", track.Codec().MimeType)
		return
	}
	r.logger.Info("inbound audio track", "participant", rp.Identity(), "codec", track.Codec().MimeType)
	go r.readTrack(track)
}

func (r *Room) readTrack(track *webrtc4.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("audio track ended", "error", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		page, err := r.in.Decode(pkt)
		if err != nil {
			r.logger.Debug("audio framing failed", "error", err)
			continue
		}
		select {
		case r.audioIn <- page:
		case <-r.closed:
			return
		default:
		}
	}
}

func (r *Room) onDataPacket(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
	pkt, ok := data.(*lksdk.UserDataPacket)
	if !ok {
		return
	}
	if isClientReady(pkt.Payload) {
		r.logger.Debug("client ready", "participant", params.SenderIdentity)
		r.Emit(EventClientReady)
	}
}
