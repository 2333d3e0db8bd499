package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

const (
	DefaultSummaryModel = "gemini-2.5-pro"
	summaryTemperature  = 0.3
	summaryMaxTokens    = 3000
)

// Gemini summarizes conversations with a Gemini model.
type Gemini struct {
	client *genai.Client
	model  string
	now    func() time.Time
}

// NewGemini returns a summarizer. An empty model uses DefaultSummaryModel.
func NewGemini(client *genai.Client, model string) *Gemini {
	if model == "" {
		model = DefaultSummaryModel
	}
	return &Gemini{client: client, model: model, now: time.Now}
}

func (g *Gemini) Summarize(ctx context.Context, history []types.Message, prior string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("gemini summarizer: client not configured")
	}
	temp := float32(summaryTemperature)
	thinking := int32(-1)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(g.now()), genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   summaryMaxTokens,
		ResponseMIMEType:  "text/plain",
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: &thinking},
	}
	contents := genai.Text(Input(history, prior))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini summarizer: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini summarizer: empty response")
	}
	return text, nil
}

// Input renders the summarization request body.
func Input(history []types.Message, prior string) string {
	var parts []string
	if strings.TrimSpace(prior) != "" {
		parts = append(parts, "=== EXISTING MEMORY ===\n"+prior+"\n")
	}
	parts = append(parts, "=== NEW CONVERSATION ===\n"+FormatConversation(history))
	return strings.Join(parts, "\n")
}

// SystemPrompt is the memory-writer instruction stamped with now.
func SystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are an advanced memory assistant specialized in creating comprehensive yet concise user memories. Your task is to analyze conversations and existing memories to create an updated, structured user memory.

CURRENT CONTEXT:
- Date: %s
- Time: %s
- Day: %s

INSTRUCTIONS:
1. ANALYZE the existing memory and new conversation to identify:
   - Personal information (name, age, location, occupation, etc.)
   - Preferences and interests
   - Goals and aspirations
   - Important dates and events
   - Relationships and social connections
   - Skills and expertise
   - Challenges and concerns
   - Communication style and personality traits

2. SYNTHESIZE information by:
   - Merging new information with existing memory
   - Resolving conflicts by prioritizing recent information
   - Maintaining chronological context where relevant
   - Preserving important historical information

3. REQUIREMENTS:
   - Keep the memory under 3000 tokens
   - Use clear, concise language
   - Maintain factual accuracy
   - Preserve emotional context
   - Include relevant timestamps for recent activities
   - Avoid redundancy
   - Focus on actionable and relationship-building information

4. FORMAT the output as a well-structured memory that can be easily referenced in future conversations.

Process the provided information and create an updated user memory following these guidelines.`,
		now.Format("2006-01-02"), now.Format("15:04:05"), now.Format("Monday"))
}
