package handlers

import (
	"net/http"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
)

// HealthHandler is the liveness probe.
type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Working!"))
}

// ReadyHandler reports whether the process can accept sessions.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Transport     string   `json:"transport"`
		Draining      bool     `json:"draining"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	cfg := h.Config

	switch cfg.Transport {
	case config.TransportPeer:
	case config.TransportRoom:
		if cfg.LiveKitURL == "" || cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
			issues = append(issues, "room transport without livekit credentials")
		}
	default:
		issues = append(issues, "invalid transport")
	}
	if cfg.JWTSecret == "" {
		issues = append(issues, "jwt secret not configured")
	}
	if vendorKeyMissing(cfg.Profile.Providers.LLM.Provider, cfg) {
		issues = append(issues, "llm provider key not configured")
	}
	if vendorKeyMissing(cfg.Profile.Providers.STT.Provider, cfg) {
		issues = append(issues, "stt provider key not configured")
	}
	if vendorKeyMissing(cfg.Profile.Providers.TTS.Provider, cfg) {
		issues = append(issues, "tts provider key not configured")
	}

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}
	limitsEnabled := (cfg.LimitRPS > 0 && cfg.LimitBurst > 0) || cfg.MaxSessionsPerSubject > 0

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:            ok,
		Transport:     string(cfg.Transport),
		Draining:      draining,
		LimitsEnabled: limitsEnabled,
		Issues:        issues,
	})
}

func vendorKeyMissing(provider string, cfg config.Config) bool {
	switch provider {
	case "google":
		return cfg.GoogleAPIKey == ""
	case "openai":
		return cfg.OpenAIAPIKey == ""
	case "deepgram":
		return cfg.DeepgramAPIKey == ""
	case "cartesia":
		return cfg.CartesiaAPIKey == ""
	case "elevenlabs":
		return cfg.ElevenLabsAPIKey == ""
	default:
		return false
	}
}
