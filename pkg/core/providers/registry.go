// Package providers resolves declarative provider selections into capability
// handles. Each capability has a factory table keyed by provider tag; an
// unknown tag or a factory that cannot honour its selection degrades to the
// capability default.
package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

// Credentials carries the vendor keys and shared clients factories read.
type Credentials struct {
	OpenAIAPIKey     string
	DeepgramAPIKey   string
	CartesiaAPIKey   string
	ElevenLabsAPIKey string
	// Gemini is shared by the google LLM and TTS factories; nil leaves those
	// handles failing on first use.
	Gemini *genai.Client
}

type (
	STTFactory func(creds Credentials, sel types.ProviderSelection) (stt.Transcriber, error)
	LLMFactory func(creds Credentials, sel types.ProviderSelection) (llm.Replier, error)
	TTSFactory func(creds Credentials, sel types.ProviderSelection) (tts.Synthesizer, error)
)

// Set is the resolved capability set for one session.
type Set struct {
	STT        stt.Transcriber
	STTOptions stt.StreamOptions
	LLM        llm.Replier
	LLMOptions llm.ReplyOptions
	TTS        tts.Synthesizer
	TTSOptions tts.SynthesizeOptions
}

// Resolver is the factory table. It is safe for concurrent use.
type Resolver struct {
	creds    Credentials
	logger   *slog.Logger
	defaults types.ProviderConfig

	mu  sync.RWMutex
	stt map[string]STTFactory
	llm map[string]LLMFactory
	tts map[string]TTSFactory
}

// NewResolver returns a resolver with the built-in providers registered.
func NewResolver(creds Credentials, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		creds:    creds,
		logger:   logger,
		defaults: types.DefaultAgentProfile().Providers,
		stt:      map[string]STTFactory{},
		llm:      map[string]LLMFactory{},
		tts:      map[string]TTSFactory{},
	}

	r.RegisterSTT("deepgram", func(c Credentials, _ types.ProviderSelection) (stt.Transcriber, error) {
		return stt.NewDeepgram(c.DeepgramAPIKey), nil
	})
	r.RegisterSTT("cartesia", func(c Credentials, _ types.ProviderSelection) (stt.Transcriber, error) {
		return stt.NewCartesia(c.CartesiaAPIKey), nil
	})

	r.RegisterLLM("google", func(c Credentials, _ types.ProviderSelection) (llm.Replier, error) {
		return llm.NewGemini(c.Gemini), nil
	})
	r.RegisterLLM("openai", func(c Credentials, _ types.ProviderSelection) (llm.Replier, error) {
		return llm.NewOpenAI(c.OpenAIAPIKey), nil
	})

	r.RegisterTTS("openai", func(c Credentials, _ types.ProviderSelection) (tts.Synthesizer, error) {
		return tts.NewOpenAI(c.OpenAIAPIKey), nil
	})
	r.RegisterTTS("google", func(c Credentials, _ types.ProviderSelection) (tts.Synthesizer, error) {
		return tts.NewGoogle(c.Gemini), nil
	})
	r.RegisterTTS("cartesia", func(c Credentials, _ types.ProviderSelection) (tts.Synthesizer, error) {
		return tts.NewCartesia(c.CartesiaAPIKey), nil
	})
	r.RegisterTTS("elevenlabs", func(c Credentials, sel types.ProviderSelection) (tts.Synthesizer, error) {
		if strings.TrimSpace(sel.Voice) == "" {
			return nil, errors.New("voice id is required")
		}
		return tts.NewElevenLabs(c.ElevenLabsAPIKey), nil
	})
	return r
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// RegisterSTT adds or replaces a speech-to-text factory.
func (r *Resolver) RegisterSTT(tag string, f STTFactory) {
	r.mu.Lock()
	r.stt[normalizeTag(tag)] = f
	r.mu.Unlock()
}

// RegisterLLM adds or replaces a language-model factory.
func (r *Resolver) RegisterLLM(tag string, f LLMFactory) {
	r.mu.Lock()
	r.llm[normalizeTag(tag)] = f
	r.mu.Unlock()
}

// RegisterTTS adds or replaces a text-to-speech factory.
func (r *Resolver) RegisterTTS(tag string, f TTSFactory) {
	r.mu.Lock()
	r.tts[normalizeTag(tag)] = f
	r.mu.Unlock()
}

// Providers lists the registered tags for a capability.
func (r *Resolver) Providers(c types.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch c {
	case types.CapabilitySTT:
		for k := range r.stt {
			out = append(out, k)
		}
	case types.CapabilityLLM:
		for k := range r.llm {
			out = append(out, k)
		}
	case types.CapabilityTTS:
		for k := range r.tts {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve maps cfg to capability handles. It never fails: unknown tags and
// rejected selections fall back to the default provider. A handle is nil
// only when the default factory itself fails.
func (r *Resolver) Resolve(cfg types.ProviderConfig) Set {
	var set Set

	sel := r.pick(types.CapabilitySTT, cfg.STT, r.defaults.STT, func(s types.ProviderSelection) error {
		h, err := r.buildSTT(s)
		set.STT = h
		return err
	})
	set.STTOptions = stt.StreamOptions{
		Model:        sel.Model,
		Language:     sel.Language,
		SampleRate:   sel.SampleRate,
		Alternatives: sel.Alternatives,
	}

	sel = r.pick(types.CapabilityLLM, cfg.LLM, r.defaults.LLM, func(s types.ProviderSelection) error {
		h, err := r.buildLLM(s)
		set.LLM = h
		return err
	})
	set.LLMOptions = llm.ReplyOptions{Model: sel.Model, Temperature: sel.Temperature, MaxTokens: sel.MaxTokens}

	sel = r.pick(types.CapabilityTTS, cfg.TTS, r.defaults.TTS, func(s types.ProviderSelection) error {
		h, err := r.buildTTS(s)
		set.TTS = h
		return err
	})
	set.TTSOptions = tts.SynthesizeOptions{
		Model:        sel.Model,
		Voice:        sel.Voice,
		Instructions: sel.Instructions,
		Language:     sel.Language,
		SampleRate:   sel.SampleRate,
	}
	if set.TTSOptions.Language == "" {
		set.TTSOptions.Language = tts.LanguageFromVoice(sel.Voice)
	}
	return set
}

// pick tries the requested selection, then the default. It returns the
// selection that produced the handle.
func (r *Resolver) pick(c types.Capability, want, def types.ProviderSelection, build func(types.ProviderSelection) error) types.ProviderSelection {
	if want.Provider == "" {
		want = def
	}
	err := build(want)
	if err == nil {
		return want
	}

	var cfgErr *core.ProviderConfigError
	if !errors.As(err, &cfgErr) {
		cfgErr = &core.ProviderConfigError{Capability: string(c), Provider: want.Provider, Err: err}
	}
	r.logger.Warn("provider selection unsupported, using default",
		"capability", string(c),
		"provider", want.Provider,
		"default", def.Provider,
		"error", cfgErr,
	)

	fallback := def
	if want.Temperature > 0 {
		fallback.Temperature = want.Temperature
	}
	if want.MaxTokens > 0 {
		fallback.MaxTokens = want.MaxTokens
	}
	if err := build(fallback); err != nil {
		r.logger.Error("default provider failed", "capability", string(c), "provider", def.Provider, "error", err)
	}
	return fallback
}

func (r *Resolver) buildSTT(sel types.ProviderSelection) (stt.Transcriber, error) {
	r.mu.RLock()
	f, ok := r.stt[normalizeTag(sel.Provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, &core.ProviderConfigError{Capability: string(types.CapabilitySTT), Provider: sel.Provider}
	}
	h, err := f(r.creds, sel)
	if err == nil && h == nil {
		err = fmt.Errorf("factory returned no handle")
	}
	return h, err
}

func (r *Resolver) buildLLM(sel types.ProviderSelection) (llm.Replier, error) {
	r.mu.RLock()
	f, ok := r.llm[normalizeTag(sel.Provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, &core.ProviderConfigError{Capability: string(types.CapabilityLLM), Provider: sel.Provider}
	}
	h, err := f(r.creds, sel)
	if err == nil && h == nil {
		err = fmt.Errorf("factory returned no handle")
	}
	return h, err
}

func (r *Resolver) buildTTS(sel types.ProviderSelection) (tts.Synthesizer, error) {
	r.mu.RLock()
	f, ok := r.tts[normalizeTag(sel.Provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, &core.ProviderConfigError{Capability: string(types.CapabilityTTS), Provider: sel.Provider}
	}
	h, err := f(r.creds, sel)
	if err == nil && h == nil {
		err = fmt.Errorf("factory returned no handle")
	}
	return h, err
}
