package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"
)

// CartesiaProvider streams audio to Cartesia's ink-whisper websocket.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, wsURL: cartesiaWSURL}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string { return "cartesia" }

// NewStream opens a streaming STT session.
func (c *CartesiaProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("CARTESIA_API_KEY is not configured")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	// Cartesia has no automatic language mode.
	language := opts.Language
	if language == "" || language == "multi" {
		language = "en"
	}
	encoding := opts.Encoding
	if encoding == "" || encoding == "linear16" {
		encoding = "pcm_s16le"
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("min_volume", "0.01")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)
	return dialStream(ctx, u.String(), headers, wsProtocol{decode: decodeCartesia, finalizeMsg: []byte("finalize")})
}

type cartesiaSTTResponse struct {
	Type     string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

func decodeCartesia(data []byte) ([]TranscriptDelta, bool, error) {
	var msg cartesiaSTTResponse
	if err := decodeJSON(data, &msg); err != nil {
		return nil, false, err
	}
	switch msg.Type {
	case "transcript":
		if strings.TrimSpace(msg.Text) == "" {
			return nil, false, nil
		}
		return []TranscriptDelta{{Text: msg.Text, IsFinal: msg.IsFinal, Timestamp: msg.Duration}}, false, nil
	case "done":
		return nil, true, nil
	case "error":
		return nil, true, fmt.Errorf("cartesia stt: %s", msg.Error)
	default:
		return nil, false, nil
	}
}
