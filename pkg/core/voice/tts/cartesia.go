package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"

	cartesiaDefaultVoice = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// CartesiaProvider streams sonic-3 speech over Cartesia's websocket API.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a new Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, wsURL: cartesiaWSURL}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string { return "cartesia" }

type cartesiaWSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
	ContextID    string               `json:"context_id"`
	Speed        float64              `json:"speed,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaWSResponse struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

var cartesiaContexts atomic.Uint64

// Synthesize streams raw PCM chunks for text.
func (c *CartesiaProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("CARTESIA_API_KEY is not configured")
	}
	voice := opts.Voice
	if voice == "" {
		voice = cartesiaDefaultVoice
	}
	model := opts.Model
	if model == "" {
		model = "sonic-3"
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	req := cartesiaWSRequest{
		ModelID:    model,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: voice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		Language:  opts.Language,
		ContextID: fmt.Sprintf("ctx-%d", cartesiaContexts.Add(1)),
		Speed:     opts.Speed,
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
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
			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					stream.SetError(ctx.Err())
					return
				}
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					stream.SetError(err)
				}
				return
			}
			switch msg.Type {
			case "chunk":
				audio, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					stream.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if !stream.Send(audio) {
					return
				}
			case "done":
				return
			case "error":
				stream.SetError(fmt.Errorf("cartesia error: %s", msg.Error))
				return
			}
		}
	}()
	return stream, nil
}
