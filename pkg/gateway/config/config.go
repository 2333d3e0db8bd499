package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// TransportMode selects how clients reach the agent. A deployment uses one.
type TransportMode string

const (
	TransportPeer TransportMode = "peer"
	TransportRoom TransportMode = "room"
)

type Config struct {
	Addr      string
	Transport TransportMode

	// Credential verification.
	JWTSecret   string
	JWTAudience string

	// StoreDSN selects the user store: postgres://, badger:///dir or memory://.
	StoreDSN string

	// ProfilePath is an optional YAML or JSON agent profile. Profile holds
	// the loaded result, or the built-in defaults.
	ProfilePath string
	Profile     types.AgentProfile

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64

	// Per-subject limits on session creation.
	LimitRPS              float64
	LimitBurst            int
	MaxSessionsPerSubject int

	// Per-address limits on the control endpoints. Zero RPS disables them.
	ControlRPS   float64
	ControlBurst int

	// Inbound audio limits applied per session before transcription.
	InboundMaxFPS       int
	InboundMaxBPS       int64
	InboundBurstSeconds int

	// Sessions.
	CompletedHistory   int
	ConsolidateTimeout time.Duration
	MemoryModel        string

	// Peer transport.
	ICEServers []string

	// Managed rooms.
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	RoomEmptyTimeout time.Duration
	CredentialTTL    time.Duration

	// Vendor credentials.
	GoogleAPIKey     string
	OpenAIAPIKey     string
	DeepgramAPIKey   string
	CartesiaAPIKey   string
	ElevenLabsAPIKey string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	NegotiateTimeout    time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VAI_VOICE_ADDR", ":7860"),
		Transport:             TransportMode(strings.ToLower(envOr("VAI_VOICE_TRANSPORT", string(TransportPeer)))),
		JWTSecret:             envOr("JWT_SECRET_KEY", ""),
		JWTAudience:           envOr("VAI_VOICE_JWT_AUDIENCE", "authenticated"),
		StoreDSN:              envOr("VAI_VOICE_STORE_DSN", "memory://"),
		ProfilePath:           envOr("VAI_VOICE_AGENT_PROFILE", ""),
		CORSAllowedOrigins:    make(map[string]struct{}),
		MaxBodyBytes:          envInt64Or("VAI_VOICE_MAX_BODY_BYTES", 256<<10), // 256 KiB, SDP offers only
		LimitRPS:              envFloat64Or("VAI_VOICE_RATE_LIMIT_RPS", 1.0),
		LimitBurst:            envIntOr("VAI_VOICE_RATE_LIMIT_BURST", 5),
		MaxSessionsPerSubject: envIntOr("VAI_VOICE_MAX_SESSIONS_PER_SUBJECT", 2),
		ControlRPS:            envFloat64Or("VAI_VOICE_CONTROL_RPS", 10),
		ControlBurst:          envIntOr("VAI_VOICE_CONTROL_BURST", 20),
		InboundMaxFPS:         envIntOr("VAI_VOICE_INBOUND_MAX_FPS", 200),
		InboundMaxBPS:         envInt64Or("VAI_VOICE_INBOUND_MAX_BPS", 256*1024),
		InboundBurstSeconds:   envIntOr("VAI_VOICE_INBOUND_BURST_SECONDS", 2),
		CompletedHistory:      envIntOr("VAI_VOICE_COMPLETED_HISTORY", 100),
		ConsolidateTimeout:    envDurationOr("VAI_VOICE_CONSOLIDATE_TIMEOUT", 90*time.Second),
		MemoryModel:           envOr("VAI_VOICE_MEMORY_MODEL", "gemini-2.5-pro"),
		LiveKitURL:            envOr("LIVEKIT_URL", ""),
		LiveKitAPIKey:         envOr("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret:      envOr("LIVEKIT_API_SECRET", ""),
		RoomEmptyTimeout:      envDurationOr("VAI_VOICE_ROOM_EMPTY_TIMEOUT", 5*time.Minute),
		CredentialTTL:         envDurationOr("VAI_VOICE_CREDENTIAL_TTL", time.Hour),
		GoogleAPIKey:          envOr("GOOGLE_API_KEY", ""),
		OpenAIAPIKey:          envOr("OPENAI_API_KEY", ""),
		DeepgramAPIKey:        envOr("DEEPGRAM_API_KEY", ""),
		CartesiaAPIKey:        envOr("CARTESIA_API_KEY", ""),
		ElevenLabsAPIKey:      envOr("ELEVENLABS_API_KEY", ""),
		ReadHeaderTimeout:     envDurationOr("VAI_VOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("VAI_VOICE_READ_TIMEOUT", 30*time.Second),
		NegotiateTimeout:      envDurationOr("VAI_VOICE_NEGOTIATE_TIMEOUT", 20*time.Second),
		ShutdownGracePeriod:   envDurationOr("VAI_VOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}
	for _, origin := range splitCSV(os.Getenv("VAI_VOICE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	cfg.ICEServers = splitCSV(os.Getenv("VAI_VOICE_ICE_SERVERS"))

	switch cfg.Transport {
	case TransportPeer, TransportRoom:
	default:
		return Config{}, fmt.Errorf("VAI_VOICE_TRANSPORT must be one of peer|room")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY must be set")
	}
	if cfg.Transport == TransportRoom {
		if cfg.LiveKitURL == "" || cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
			return Config{}, fmt.Errorf("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set when VAI_VOICE_TRANSPORT=room")
		}
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.MaxSessionsPerSubject < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_MAX_SESSIONS_PER_SUBJECT must be >= 0")
	}
	if cfg.ControlRPS < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_CONTROL_RPS must be >= 0")
	}
	if cfg.ControlRPS > 0 && cfg.ControlBurst < 1 {
		return Config{}, fmt.Errorf("VAI_VOICE_CONTROL_BURST must be >= 1 when VAI_VOICE_CONTROL_RPS is set")
	}
	if cfg.InboundMaxFPS < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_INBOUND_MAX_FPS must be >= 0")
	}
	if cfg.InboundMaxBPS < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_INBOUND_MAX_BPS must be >= 0")
	}
	if (cfg.InboundMaxFPS > 0 || cfg.InboundMaxBPS > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VAI_VOICE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.CompletedHistory <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_COMPLETED_HISTORY must be > 0")
	}
	if cfg.ConsolidateTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_CONSOLIDATE_TIMEOUT must be > 0")
	}
	if cfg.RoomEmptyTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_ROOM_EMPTY_TIMEOUT must be >= 0")
	}
	if cfg.CredentialTTL <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_CREDENTIAL_TTL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_READ_HEADER_TIMEOUT and VAI_VOICE_READ_TIMEOUT must be > 0")
	}
	if cfg.NegotiateTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_NEGOTIATE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	profile, err := LoadProfile(cfg.ProfilePath)
	if err != nil {
		return Config{}, err
	}
	cfg.Profile = profile
	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
