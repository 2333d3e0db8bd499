// Package llm provides the language-model capability and its vendor adapters.
package llm

import (
	"context"
	"iter"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Replier turns a message history into a streamed reply.
type Replier interface {
	// Name returns the provider identifier.
	Name() string

	// Reply streams text deltas. The sequence ends on the first error.
	Reply(ctx context.Context, history []types.Message, opts ReplyOptions) iter.Seq2[string, error]
}

// ReplyOptions tunes generation.
type ReplyOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}
