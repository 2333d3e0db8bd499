package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI PCM output is fixed at 24kHz mono s16le.
const openAISampleRate = 24000

// OpenAIProvider synthesizes speech with the OpenAI audio API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI creates an OpenAI TTS provider. Extra options (base URL, retries)
// are passed to the client.
func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{client: openai.NewClient(all...)}
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string { return "openai" }

// Synthesize requests PCM speech and streams the response body.
func (o *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	voice := opts.Voice
	if voice == "" {
		voice = "alloy"
	}
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if strings.TrimSpace(opts.Instructions) != "" {
		params.Instructions = openai.String(opts.Instructions)
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}

	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}

	stream := NewSynthesisStream(openAISampleRate)
	go func() {
		defer stream.FinishSending()
		defer resp.Body.Close()
		buf := make([]byte, 4800) // 100ms at 24kHz s16le
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if !stream.Send(append([]byte(nil), buf[:n]...)) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				stream.SetError(fmt.Errorf("read speech: %w", err))
				return
			}
		}
	}()
	return stream, nil
}
