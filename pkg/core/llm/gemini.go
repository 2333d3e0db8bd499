package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// GeminiProvider streams replies from Gemini models.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini wraps an existing genai client.
func NewGemini(client *genai.Client) *GeminiProvider {
	return &GeminiProvider{client: client}
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string { return "google" }

// Reply streams text deltas for history.
func (g *GeminiProvider) Reply(ctx context.Context, history []types.Message, opts ReplyOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if g.client == nil {
			yield("", fmt.Errorf("gemini: client not configured"))
			return
		}
		model := opts.Model
		if model == "" {
			model = types.DefaultLLMModel
		}
		cfg, contents := GeminiContents(history)
		if opts.Temperature > 0 {
			temp := float32(opts.Temperature)
			cfg.Temperature = &temp
		}
		if opts.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(opts.MaxTokens)
		}
		if len(contents) == 0 {
			yield("", fmt.Errorf("gemini: no conversational turns"))
			return
		}
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				yield("", fmt.Errorf("gemini: %w", err))
				return
			}
			if text := chunkText(chunk); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// GeminiContents splits history into a system instruction and turns.
// Consecutive turns from the same role are merged.
func GeminiContents(history []types.Message) (*genai.GenerateContentConfig, []*genai.Content) {
	cfg := &genai.GenerateContentConfig{}
	var system []*genai.Part
	var contents []*genai.Content
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == types.RoleSystem {
			system = append(system, genai.NewPartFromText(m.Content))
			continue
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		part := genai.NewPartFromText(m.Content)
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	return cfg, contents
}

func chunkText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
