package stt

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const deepgramBaseURL = "wss://api.deepgram.com/v1"

// Deepgram closes a live stream after about ten seconds without data.
const deepgramKeepAlive = 5 * time.Second

// DeepgramProvider streams audio to Deepgram's live listen endpoint.
type DeepgramProvider struct {
	apiKey    string
	baseURL   string
	keepAlive time.Duration
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: deepgramBaseURL, keepAlive: deepgramKeepAlive}
}

// NewDeepgramWithBaseURL points the provider at a different listen endpoint.
func NewDeepgramWithBaseURL(apiKey, baseURL string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), keepAlive: deepgramKeepAlive}
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string { return "deepgram" }

// NewStream opens a live transcription websocket. A KeepAlive message is
// sent while the caller is silent so the vendor keeps the stream open.
func (d *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if strings.TrimSpace(d.apiKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)
	return dialStream(ctx, d.listenURL(opts), headers, wsProtocol{
		decode:         decodeDeepgram,
		finalizeMsg:    []byte(`{"type":"CloseStream"}`),
		keepAliveMsg:   []byte(`{"type":"KeepAlive"}`),
		keepAliveEvery: d.keepAlive,
	})
}

func (d *DeepgramProvider) listenURL(opts StreamOptions) string {
	model := opts.Model
	if model == "" {
		model = "nova-3"
	}
	language := opts.Language
	if language == "" {
		language = "multi"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("numerals", "true")
	q.Set("filler_words", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", "10")
	if opts.Alternatives > 1 {
		q.Set("alternatives", strconv.Itoa(opts.Alternatives))
	}
	return d.baseURL + "/listen?" + q.Encode()
}

type deepgramMessage struct {
	Type    string  `json:"type"`
	Start   float64 `json:"start"`
	IsFinal bool    `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func decodeDeepgram(data []byte) ([]TranscriptDelta, bool, error) {
	var msg deepgramMessage
	if err := decodeJSON(data, &msg); err != nil {
		return nil, false, err
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return nil, false, nil
	}
	alt := msg.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return nil, false, nil
	}
	return []TranscriptDelta{{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  msg.Start,
	}}, false, nil
}
