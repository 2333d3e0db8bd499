package pipeline

import (
	"strings"
	"sync"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Context is the running message history shared by the aggregator pair.
type Context struct {
	mu       sync.Mutex
	messages []types.Message
}

// NewContext starts a history with an optional system prompt.
func NewContext(systemPrompt string) *Context {
	c := &Context{}
	if strings.TrimSpace(systemPrompt) != "" {
		c.messages = append(c.messages, types.SystemMessage(systemPrompt))
	}
	return c
}

// Messages returns a copy of the history.
func (c *Context) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CloneMessages(c.messages)
}

// Append adds a turn. Consecutive turns from the same speaker are merged so
// the history alternates.
func (c *Context) Append(msg types.Message) {
	if strings.TrimSpace(msg.Content) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == msg.Role && msg.Role != types.RoleSystem {
		c.messages[n-1].Content += " " + msg.Content
		return
	}
	c.messages = append(c.messages, msg)
}

// LastRole returns the role of the newest turn, or "" for an empty history.
func (c *Context) LastRole() types.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1].Role
}
