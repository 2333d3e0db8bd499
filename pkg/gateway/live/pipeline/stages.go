package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/core/voice"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

// Stage names, in canonical order.
const (
	StageTransportInput      = "transport.input"
	StageSTT                 = "stt"
	StageTelemetry           = "telemetry"
	StageUserAggregator      = "user.aggregator"
	StageLLM                 = "llm"
	StageResponseObserver    = "response.observer"
	StageTTS                 = "tts"
	StageTransportOutput     = "transport.output"
	StageAssistantAggregator = "assistant.aggregator"
)

// transportInput forwards queued frames and produces inbound audio.
type transportInput struct {
	tr      transport.Transport
	limit   *inboundLimiter
	logger  *slog.Logger
	dropped int
}

func (s *transportInput) Name() string { return StageTransportInput }

func (s *transportInput) Process(_ context.Context, f Frame, push PushFunc) error {
	push(f)
	return nil
}

func (s *transportInput) Run(ctx context.Context, push PushFunc) error {
	audio := s.tr.InboundAudio()
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-audio:
			if !ok {
				// Transport closed; teardown arrives as a lifecycle event.
				return nil
			}
			if !s.limit.Allow(len(chunk)) {
				if s.dropped++; s.dropped%100 == 1 {
					s.logger.Warn("inbound audio over limit, dropping", "dropped", s.dropped)
				}
				continue
			}
			if !push(AudioInFrame{Audio: chunk}) {
				return nil
			}
		}
	}
}

var errSTTStreamEnded = errors.New("transcription stream ended")

// sttStage streams inbound audio to the transcriber.
type sttStage struct {
	transcriber stt.Transcriber
	opts        stt.StreamOptions
	// header is sent once, ahead of the first audio chunk.
	header []byte
	stream stt.Stream
}

func (s *sttStage) Name() string { return StageSTT }

func (s *sttStage) Start(ctx context.Context) error {
	stream, err := s.transcriber.NewStream(ctx, s.opts)
	if err != nil {
		return fmt.Errorf("%s: open stream: %w", s.transcriber.Name(), err)
	}
	s.stream = stream
	if len(s.header) > 0 {
		if err := stream.SendAudio(s.header); err != nil {
			return fmt.Errorf("%s: send stream header: %w", s.transcriber.Name(), err)
		}
	}
	return nil
}

func (s *sttStage) Process(_ context.Context, f Frame, push PushFunc) error {
	in, ok := f.(AudioInFrame)
	if !ok {
		push(f)
		return nil
	}
	if err := s.stream.SendAudio(in.Audio); err != nil {
		return fmt.Errorf("%s: send audio: %w", s.transcriber.Name(), err)
	}
	return nil
}

func (s *sttStage) Run(ctx context.Context, push PushFunc) error {
	for delta := range s.stream.Transcripts() {
		text := strings.TrimSpace(delta.Text)
		if text == "" {
			continue
		}
		if !push(TranscriptionFrame{Text: text, Final: delta.IsFinal, At: time.Now()}) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("%s: %w", s.transcriber.Name(), err)
	}
	return errSTTStreamEnded
}

func (s *sttStage) Cleanup() {
	if s.stream != nil {
		_ = s.stream.Close()
	}
}

// telemetryStage mirrors recognized speech to the client as app messages.
// It never alters frames.
type telemetryStage struct {
	tr     transport.Transport
	logger *slog.Logger
}

// TranscriptMessage is the app message telemetry sends for each transcript.
type TranscriptMessage struct {
	Type string         `json:"type"`
	Data TranscriptData `json:"data"`
}

type TranscriptData struct {
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	Timestamp string `json:"timestamp"`
}

func (s *telemetryStage) Name() string { return StageTelemetry }

func (s *telemetryStage) Process(ctx context.Context, f Frame, push PushFunc) error {
	if tf, ok := f.(TranscriptionFrame); ok {
		msg := TranscriptMessage{
			Type: "user-transcription",
			Data: TranscriptData{Text: tf.Text, Final: tf.Final, Timestamp: tf.At.UTC().Format(time.RFC3339Nano)},
		}
		if err := s.tr.SendMessage(ctx, msg); err != nil {
			s.logger.Debug("telemetry message dropped", "error", err)
		}
	}
	push(f)
	return nil
}

// llmStage replies to the history whenever a context frame arrives and the
// user spoke last.
type llmStage struct {
	replier llm.Replier
	opts    llm.ReplyOptions
	history *Context
	logger  *slog.Logger
}

func (s *llmStage) Name() string { return StageLLM }

func (s *llmStage) Process(ctx context.Context, f Frame, push PushFunc) error {
	if _, ok := f.(LLMContextFrame); !ok {
		push(f)
		return nil
	}
	if s.history.LastRole() != types.RoleUser {
		s.logger.Debug("context frame without pending user turn")
		return nil
	}
	if !push(LLMResponseStartFrame{}) {
		return nil
	}
	for text, err := range s.replier.Reply(ctx, s.history.Messages(), s.opts) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", s.replier.Name(), err)
		}
		if !push(TextFrame{Text: text}) {
			return nil
		}
	}
	push(LLMResponseEndFrame{})
	return nil
}

// responseObserver logs completed model replies. It only observes.
type responseObserver struct {
	logger  *slog.Logger
	buf     strings.Builder
	started time.Time
}

func (s *responseObserver) Name() string { return StageResponseObserver }

func (s *responseObserver) Process(_ context.Context, f Frame, push PushFunc) error {
	switch v := f.(type) {
	case LLMResponseStartFrame:
		s.buf.Reset()
		s.started = time.Now()
	case TextFrame:
		s.buf.WriteString(v.Text)
	case LLMResponseEndFrame:
		s.logger.Info("assistant reply",
			"chars", s.buf.Len(),
			"duration_ms", time.Since(s.started).Milliseconds(),
		)
		s.logger.Debug("assistant reply text", "text", s.buf.String())
	}
	push(f)
	return nil
}

// ttsStage speaks model replies sentence by sentence and TTSSpeakFrames
// verbatim. Text frames continue downstream for the assistant aggregator.
type ttsStage struct {
	synth tts.Synthesizer
	opts  tts.SynthesizeOptions
	buf   *voice.SentenceBuffer
}

func (s *ttsStage) Name() string { return StageTTS }

func (s *ttsStage) Process(ctx context.Context, f Frame, push PushFunc) error {
	switch v := f.(type) {
	case LLMResponseStartFrame:
		s.buf.Reset()
		push(f)
	case TextFrame:
		push(f)
		for _, sentence := range s.buf.Add(v.Text) {
			if err := s.speak(ctx, sentence, push); err != nil {
				return err
			}
		}
	case LLMResponseEndFrame:
		if rest := s.buf.Flush(); rest != "" {
			if err := s.speak(ctx, rest, push); err != nil {
				return err
			}
		}
		push(f)
	case TTSSpeakFrame:
		if err := s.speak(ctx, v.Text, push); err != nil {
			return err
		}
		push(SpokenFrame{Text: v.Text})
	default:
		push(f)
	}
	return nil
}

func (s *ttsStage) speak(ctx context.Context, text string, push PushFunc) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	stream, err := s.synth.Synthesize(ctx, text, s.opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: %w", s.synth.Name(), err)
	}
	defer stream.Close()
	for chunk := range stream.Chunks() {
		if !push(AudioOutFrame{Audio: chunk, SampleRate: stream.SampleRate}) {
			return nil
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", s.synth.Name(), err)
	}
	return nil
}

// transportOutput writes synthesized audio to the transport.
type transportOutput struct {
	tr     transport.Transport
	logger *slog.Logger
}

func (s *transportOutput) Name() string { return StageTransportOutput }

func (s *transportOutput) Process(ctx context.Context, f Frame, push PushFunc) error {
	out, ok := f.(AudioOutFrame)
	if !ok {
		push(f)
		return nil
	}
	if err := s.tr.WriteAudio(ctx, out.Audio, out.SampleRate); err != nil {
		if errors.Is(err, transport.ErrNotConnected) || ctx.Err() != nil {
			s.logger.Debug("audio dropped", "error", err)
			return nil
		}
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}
