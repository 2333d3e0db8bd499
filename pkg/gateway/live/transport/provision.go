package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ProvisionedRoom is a freshly created managed room.
type ProvisionedRoom struct {
	Name string
	URL  string
}

// LiveKitConfig holds the managed-room server credentials.
type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	// EmptyTimeout closes rooms nobody joined. Zero uses the server default.
	EmptyTimeout time.Duration
}

// LiveKit creates rooms and issues access credentials against a LiveKit
// server.
type LiveKit struct {
	cfg    LiveKitConfig
	client *lksdk.RoomServiceClient
}

// NewLiveKit returns a provisioner. No network calls are made.
func NewLiveKit(cfg LiveKitConfig) *LiveKit {
	return &LiveKit{
		cfg:    cfg,
		client: lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
}

// CreateRoom creates a uniquely named room.
func (l *LiveKit) CreateRoom(ctx context.Context) (ProvisionedRoom, error) {
	name := "vai-" + uuid.NewString()
	req := &livekit.CreateRoomRequest{Name: name}
	if l.cfg.EmptyTimeout > 0 {
		req.EmptyTimeout = uint32(l.cfg.EmptyTimeout / time.Second)
	}
	room, err := l.client.CreateRoom(ctx, req)
	if err != nil {
		return ProvisionedRoom{Name: name}, err
	}
	return ProvisionedRoom{Name: room.GetName(), URL: l.cfg.URL}, nil
}

// IssueCredential mints a room-scoped join token for identity.
func (l *LiveKit) IssueCredential(_ context.Context, room, identity string, ttl time.Duration) (string, error) {
	at := auth.NewAccessToken(l.cfg.APIKey, l.cfg.APISecret)
	at.SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room}).
		SetIdentity(identity).
		SetValidFor(ttl)
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return token, nil
}

// DeleteRoom removes a room, used when session setup fails after creation.
func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	_, err := l.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	return err
}

// Join connects the agent bot to room.
func (l *LiveKit) Join(ctx context.Context, room, token string, cfg RoomConfig) (*Room, error) {
	if cfg.URL == "" {
		cfg.URL = l.cfg.URL
	}
	return JoinRoom(ctx, room, token, cfg)
}
