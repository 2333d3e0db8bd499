package types

// Capability names one of the three pipeline capabilities.
type Capability string

const (
	CapabilitySTT Capability = "stt"
	CapabilityLLM Capability = "llm"
	CapabilityTTS Capability = "tts"
)

// ProviderSelection is the declarative choice for one capability.
type ProviderSelection struct {
	Provider     string  `json:"provider,omitempty" yaml:"provider"`
	Model        string  `json:"model,omitempty" yaml:"model"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Voice        string  `json:"voice,omitempty" yaml:"voice"`
	Language     string  `json:"language,omitempty" yaml:"language"`
	Instructions string  `json:"instructions,omitempty" yaml:"instructions"`
	Alternatives int     `json:"alternatives,omitempty" yaml:"alternatives"`
	SampleRate   int     `json:"sample_rate,omitempty" yaml:"sample_rate"`
}

// ProviderConfig selects a provider per capability. It is immutable once
// resolved for a session.
type ProviderConfig struct {
	LLM ProviderSelection `json:"llm" yaml:"llm"`
	STT ProviderSelection `json:"stt" yaml:"stt"`
	TTS ProviderSelection `json:"tts" yaml:"tts"`
}

// AgentProfile is the per-deployment agent definition.
type AgentProfile struct {
	Providers    ProviderConfig `json:"providers" yaml:"providers"`
	FirstMessage string         `json:"first_message,omitempty" yaml:"first_message"`
	// PromptKind picks a built-in companion prompt when SystemPrompt is
	// empty.
	PromptKind   string `json:"prompt_kind,omitempty" yaml:"prompt_kind"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt"`
}

const (
	DefaultFirstMessage    = "Hello! How can I assist you today?"
	DefaultLLMModel        = "gemini-2.5-flash"
	DefaultLLMTemperature  = 0.7
	DefaultLLMMaxTokens    = 2000
	DefaultTTSModel        = "gpt-4o-mini-tts"
	DefaultTTSVoice        = "alloy"
	DefaultTTSInstructions = "Use a friendly and engaging tone. Speak clearly and at a moderate pace."
	DefaultSTTModel        = "nova-3"
	DefaultSTTLanguage     = "multi"
	DefaultSampleRate      = 16000
)

// DefaultAgentProfile returns the built-in agent profile.
func DefaultAgentProfile() AgentProfile {
	return AgentProfile{
		Providers: ProviderConfig{
			LLM: ProviderSelection{
				Provider:    "google",
				Model:       DefaultLLMModel,
				Temperature: DefaultLLMTemperature,
				MaxTokens:   DefaultLLMMaxTokens,
			},
			STT: ProviderSelection{
				Provider: "deepgram",
				Model:    DefaultSTTModel,
				Language: DefaultSTTLanguage,
			},
			TTS: ProviderSelection{
				Provider:     "openai",
				Model:        DefaultTTSModel,
				Voice:        DefaultTTSVoice,
				Instructions: DefaultTTSInstructions,
			},
		},
		FirstMessage: DefaultFirstMessage,
	}
}

// WithDefaults fills empty fields from DefaultAgentProfile.
func (p AgentProfile) WithDefaults() AgentProfile {
	def := DefaultAgentProfile()
	if p.FirstMessage == "" {
		p.FirstMessage = def.FirstMessage
	}
	if p.Providers.LLM.Provider == "" {
		p.Providers.LLM = def.Providers.LLM
	}
	if p.Providers.STT.Provider == "" {
		p.Providers.STT = def.Providers.STT
	}
	if p.Providers.TTS.Provider == "" {
		p.Providers.TTS = def.Providers.TTS
	}
	return p
}
