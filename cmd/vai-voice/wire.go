package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/providers"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/memory"
	"github.com/vango-go/vai-voice/pkg/gateway/live/negotiate"
	"github.com/vango-go/vai-voice/pkg/gateway/live/pipeline"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
	gatewayserver "github.com/vango-go/vai-voice/pkg/gateway/server"
	"github.com/vango-go/vai-voice/pkg/store"
)

// buildApp wires the process from cfg. Nothing listens until the returned
// gateway's handler is served.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg.StoreDSN, logger)
	if err != nil {
		return nil, err
	}

	var gemini *genai.Client
	if cfg.GoogleAPIKey != "" {
		gemini, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GoogleAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("gemini client: %w", err)
		}
	}

	m := metrics.New("")
	resolver := providers.NewResolver(providers.Credentials{
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		DeepgramAPIKey:   cfg.DeepgramAPIKey,
		CartesiaAPIKey:   cfg.CartesiaAPIKey,
		ElevenLabsAPIKey: cfg.ElevenLabsAPIKey,
		Gemini:           gemini,
	}, logger)

	var consolidator session.Consolidator
	if gemini != nil {
		consolidator = memory.NewTrigger(
			memory.NewGemini(gemini, cfg.MemoryModel),
			st,
			memory.WithLogger(logger),
			memory.WithTimeout(cfg.ConsolidateTimeout),
			memory.WithFallbackHook(m.RecordConsolidationFallback),
		)
	} else {
		logger.Warn("GOOGLE_API_KEY not set, sessions end without memory consolidation")
	}

	registry := sessions.New(cfg.CompletedHistory)
	orch, err := session.New(session.Config{
		Resolver:           resolver,
		Registry:           registry,
		Memory:             consolidator,
		Profile:            cfg.Profile,
		ConsolidateTimeout: cfg.ConsolidateTimeout,
		PipelineOptions: []pipeline.Option{
			pipeline.WithInboundLimit(pipeline.InboundLimit{
				FramesPerSecond: cfg.InboundMaxFPS,
				BytesPerSecond:  cfg.InboundMaxBPS,
				BurstSeconds:    cfg.InboundBurstSeconds,
			}),
		},
		Hooks:  m.SessionHooks(),
		Logger: logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	gate := auth.NewGate(cfg.JWTSecret,
		auth.WithAudience(cfg.JWTAudience),
		auth.WithLogger(logger),
		auth.WithRejectHook(m.RecordAuthFailure),
	)
	subjects := ratelimit.New(ratelimit.Config{
		RPS:                   cfg.LimitRPS,
		Burst:                 cfg.LimitBurst,
		MaxConcurrentSessions: cfg.MaxSessionsPerSubject,
	})

	deps := gatewayserver.Deps{
		Lifecycle: &lifecycle.Lifecycle{},
		Metrics:   m,
		Sessions:  orch,
		Status:    registry,
		Drainer:   registry,
		Limiter:   controlLimiter(cfg),
	}

	switch cfg.Transport {
	case config.TransportRoom:
		lk := transport.NewLiveKit(transport.LiveKitConfig{
			URL:          cfg.LiveKitURL,
			APIKey:       cfg.LiveKitAPIKey,
			APISecret:    cfg.LiveKitAPISecret,
			EmptyTimeout: cfg.RoomEmptyTimeout,
		})
		rooms, err := negotiate.NewRoom(negotiate.RoomConfig{
			Verifier:     gate,
			Users:        st,
			Orchestrator: orch,
			Provisioner:  lk,
			Join: func(ctx context.Context, room transport.ProvisionedRoom, token string) (transport.Transport, error) {
				r, err := lk.Join(ctx, room.Name, token, transport.RoomConfig{URL: room.URL, Logger: logger})
				if err != nil {
					return nil, err
				}
				return r, nil
			},
			Limiter:       subjects,
			CredentialTTL: cfg.CredentialTTL,
			Logger:        logger,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deps.Rooms = rooms
	case config.TransportPeer:
		ice := cfg.ICEServers
		if len(ice) == 0 {
			ice = []string{transport.DefaultSTUNServer}
		}
		peers, err := negotiate.NewPeer(negotiate.PeerConfig{
			Verifier:     gate,
			Users:        st,
			Orchestrator: orch,
			NewPeer: func(id string) (negotiate.PeerConn, error) {
				p, err := transport.NewPeer(id, transport.PeerConfig{ICEServers: ice, Logger: logger})
				if err != nil {
					return nil, err
				}
				return p, nil
			},
			Limiter: subjects,
			Logger:  logger,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deps.Peers = peers
		deps.PeerCloser = peers
	default:
		_ = st.Close()
		return nil, errors.New("unknown transport " + string(cfg.Transport))
	}

	return &app{
		gateway: gatewayserver.New(cfg, logger, deps),
		close:   st.Close,
	}, nil
}

func controlLimiter(cfg config.Config) *ratelimit.Limiter {
	if cfg.ControlRPS <= 0 {
		return nil
	}
	return ratelimit.New(ratelimit.Config{RPS: cfg.ControlRPS, Burst: cfg.ControlBurst})
}
