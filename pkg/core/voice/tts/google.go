package tts

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	googleTTSModel      = "gemini-2.5-flash-preview-tts"
	googleDefaultVoice  = "Kore"
	googleTTSSampleRate = 24000
)

// GoogleProvider synthesizes speech with Gemini's audio output modality.
type GoogleProvider struct {
	client *genai.Client
}

// NewGoogle creates a Gemini-backed TTS provider.
func NewGoogle(client *genai.Client) *GoogleProvider {
	return &GoogleProvider{client: client}
}

// Name returns the provider identifier.
func (g *GoogleProvider) Name() string { return "google" }

// LanguageFromVoice extracts the locale prefix of a Cloud voice id such as
// "en-IN-Chirp-HD-F". Plain voice names yield "".
func LanguageFromVoice(voice string) string {
	parts := strings.Split(voice, "-")
	if len(parts) < 3 {
		return ""
	}
	if len(parts[0]) != 2 || len(parts[1]) != 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}

// Synthesize streams inline PCM from the model.
func (g *GoogleProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	if g.client == nil {
		return nil, fmt.Errorf("google tts: client not configured")
	}
	model := opts.Model
	if model == "" {
		model = googleTTSModel
	}
	voiceName := opts.Voice
	language := opts.Language
	if lang := LanguageFromVoice(voiceName); lang != "" {
		// Cloud voice ids are not prebuilt Gemini voices.
		if language == "" {
			language = lang
		}
		voiceName = googleDefaultVoice
	}
	if voiceName == "" {
		voiceName = googleDefaultVoice
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: language,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	}
	prompt := text
	if strings.TrimSpace(opts.Instructions) != "" {
		prompt = opts.Instructions + ": " + text
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(prompt)}}}

	stream := NewSynthesisStream(googleTTSSampleRate)
	go func() {
		defer stream.FinishSending()
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				stream.SetError(fmt.Errorf("google tts: %w", err))
				return
			}
			for _, cand := range chunk.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.InlineData == nil {
						continue
					}
					if !stream.Send(part.InlineData.Data) {
						return
					}
				}
			}
		}
	}()
	return stream, nil
}
