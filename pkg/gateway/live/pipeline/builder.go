package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/providers"
	"github.com/vango-go/vai-voice/pkg/core/voice"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

// Pipeline is an assembled stage chain.
type Pipeline struct {
	Stages      []Processor
	Context     *Context
	Aggregators Aggregators
	Transport   transport.Transport
}

// StageNames lists stage names in order.
func (p *Pipeline) StageNames() []string {
	out := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.Name()
	}
	return out
}

type buildOptions struct {
	logger          *slog.Logger
	sentenceMinChar int
	inbound         InboundLimit
}

type Option func(*buildOptions)

func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithSentenceMinChars sets how much text synthesis waits for.
func WithSentenceMinChars(n int) Option {
	return func(o *buildOptions) { o.sentenceMinChar = n }
}

// WithInboundLimit drops inbound audio beyond lim.
func WithInboundLimit(lim InboundLimit) Option {
	return func(o *buildOptions) { o.inbound = lim }
}

// Build assembles the canonical chain around tr. Construction is
// all-or-nothing: any missing input fails with *core.PipelineInitError
// before a stage is created.
func Build(tr transport.Transport, caps providers.Set, systemPrompt string, opts ...Option) (*Pipeline, error) {
	o := buildOptions{logger: slog.Default(), sentenceMinChar: 12}
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case tr == nil:
		return nil, &core.PipelineInitError{Stage: "transport", Err: errors.New("no transport")}
	case !tr.Connected():
		return nil, &core.PipelineInitError{Stage: "transport", Err: transport.ErrNotConnected}
	case caps.STT == nil:
		return nil, &core.PipelineInitError{Stage: StageSTT, Err: errors.New("no speech-to-text handle")}
	case caps.LLM == nil:
		return nil, &core.PipelineInitError{Stage: StageLLM, Err: errors.New("no language model handle")}
	case caps.TTS == nil:
		return nil, &core.PipelineInitError{Stage: StageTTS, Err: errors.New("no text-to-speech handle")}
	}

	sttOpts := caps.STTOptions
	format := tr.InboundFormat()
	if format.Encoding != "" {
		sttOpts.Encoding = format.Encoding
	}
	if format.SampleRate > 0 {
		sttOpts.SampleRate = format.SampleRate
	}

	history := NewContext(systemPrompt)
	aggs := NewAggregators(history)
	logger := o.logger

	stages := []Processor{
		&transportInput{tr: tr, limit: newInboundLimiter(time.Now, o.inbound), logger: logger},
		&sttStage{transcriber: caps.STT, opts: sttOpts, header: format.Header},
	}
	if tr.Kind() == transport.KindRoom {
		stages = append(stages, &telemetryStage{tr: tr, logger: logger})
	}
	stages = append(stages,
		aggs.User,
		&llmStage{replier: caps.LLM, opts: caps.LLMOptions, history: history, logger: logger},
		&responseObserver{logger: logger},
		&ttsStage{synth: caps.TTS, opts: caps.TTSOptions, buf: voice.NewSentenceBuffer(o.sentenceMinChar)},
		&transportOutput{tr: tr, logger: logger},
		aggs.Assistant,
	)

	return &Pipeline{
		Stages:      stages,
		Context:     history,
		Aggregators: aggs,
		Transport:   tr,
	}, nil
}
