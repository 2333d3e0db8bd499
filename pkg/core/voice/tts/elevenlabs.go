package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsDefaultWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsProvider streams speech over the ElevenLabs input-streaming API.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
}

// NewElevenLabs creates an ElevenLabs TTS provider.
func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsDefaultWSBase,
	}
}

// WithWSBaseURL overrides the websocket endpoint template.
func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	base = strings.TrimSpace(base)
	if base != "" {
		e.wsBaseURL = base
	}
	return e
}

// Name returns the provider identifier.
func (e *ElevenLabsProvider) Name() string { return "elevenlabs" }

// Synthesize sends text in one flush and streams the PCM reply.
func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	wsURL, err := buildElevenLabsWSURL(e.wsBaseURL, voiceID, opts.Model, sampleRate)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	for _, payload := range []map[string]any{
		{"text": " "},
		{"text": strings.TrimSpace(text) + " ", "flush": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(payload); err != nil {
			conn.Close()
			return nil, fmt.Errorf("send text: %w", err)
		}
	}

	stream := NewSynthesisStream(sampleRate)
	go func() {
		<-stream.Done()
		conn.Close()
	}()
	go func() {
		defer stream.FinishSending()
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					stream.SetError(ctx.Err())
				} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					stream.SetError(err)
				}
				return
			}
			var msg struct {
				Audio   string `json:"audio"`
				IsFinal bool   `json:"isFinal"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Audio != "" {
				audio, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err == nil && !stream.Send(audio) {
					return
				}
			}
			if msg.IsFinal {
				return
			}
		}
	}()
	return stream, nil
}

func buildElevenLabsWSURL(base, voiceID, model string, sampleRate int) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = elevenLabsDefaultWSBase
	}
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if model == "" {
		model = "eleven_flash_v2_5"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		q.Set("model_id", model)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", fmt.Sprintf("pcm_%d", sampleRate))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
