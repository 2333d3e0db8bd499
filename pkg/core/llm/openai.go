package llm

import (
	"context"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAIProvider streams replies from the chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI creates an OpenAI chat provider.
func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{client: openai.NewClient(all...)}
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string { return "openai" }

// Reply streams text deltas for history.
func (o *OpenAIProvider) Reply(ctx context.Context, history []types.Message, opts ReplyOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		model := opts.Model
		if model == "" || model == types.DefaultLLMModel {
			model = openAIDefaultModel
		}
		params := openai.ChatCompletionNewParams{
			Model:    model,
			Messages: openAIMessages(history),
		}
		if opts.Temperature > 0 {
			params.Temperature = openai.Float(opts.Temperature)
		}
		if opts.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
		}

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("openai chat: %w", err))
		}
	}
}

func openAIMessages(history []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
