// Package memory provides conversation storage: an ordered, append-only
// log of turns per conversation, with denormalized display fields kept
// current as messages land.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/skald-ai/skald/internal/llm"
)

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one conversation turn. Messages are immutable once appended
// except for user-triggered deletion and the bookmark flag, neither of
// which the agent loop depends on.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool
	// execution; such messages have empty Content.
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName back-reference the originating request on
	// tool-role messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	Bookmarked bool      `json:"bookmarked,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conversation holds one conversation and its denormalized display
// fields. Title and Preview are maintained on append so list views never
// need to load message bodies.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the list-view projection of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the interface both conversation stores implement. The agent
// loop holds only a conversation ID and re-reads through this interface
// every turn; callers own concurrency gating per conversation.
type Store interface {
	// GetOrCreate returns the conversation, creating it on first use.
	GetOrCreate(id string) (*Conversation, error)

	// Get returns the conversation or nil when unknown.
	Get(id string) (*Conversation, error)

	// List returns summaries of all conversations, most recently
	// updated first.
	List() ([]Summary, error)

	// Append validates and stores a message, assigning an ID and
	// timestamp when the caller supplied none, and returns the stored
	// message. A tool-role message must reference a tool-call ID issued
	// by a preceding assistant message in the same conversation.
	Append(conversationID string, msg Message) (Message, error)

	// Messages returns the ordered message log.
	Messages(conversationID string) ([]Message, error)

	// DeleteMessage removes one message (user-triggered only).
	DeleteMessage(conversationID, messageID string) error

	// ToggleBookmark flips the bookmark flag and returns the new value.
	ToggleBookmark(conversationID, messageID string) (bool, error)

	// Delete removes a conversation. Conversations are never deleted
	// implicitly; this serves the explicit user action.
	Delete(conversationID string) error

	// Stats returns storage statistics.
	Stats() map[string]any
}

const (
	titleLimit   = 48
	previewLimit = 80
)

// validateAppend enforces the tool-result pairing invariant against the
// existing log.
func validateAppend(existing []Message, msg Message) error {
	switch msg.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	case RoleTool:
		if msg.ToolCallID == "" {
			return fmt.Errorf("tool message missing tool_call_id")
		}
		for _, m := range existing {
			if m.Role != RoleAssistant {
				continue
			}
			for _, tc := range m.ToolCalls {
				if tc.ID == msg.ToolCallID {
					return nil
				}
			}
		}
		return fmt.Errorf("tool message references unknown tool call %q", msg.ToolCallID)
	default:
		return fmt.Errorf("unknown role %q", msg.Role)
	}
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

// displayFields derives the updated title and preview after appending
// msg. The first user message seeds the title; the latest textual
// message of any visible role refreshes the preview.
func displayFields(conv *Conversation, msg Message) (title, preview string) {
	title = conv.Title
	preview = conv.Preview

	if title == "" && msg.Role == RoleUser && msg.Content != "" {
		title = truncate(msg.Content, titleLimit)
	}
	if msg.Content != "" && msg.Role != RoleTool {
		preview = truncate(msg.Content, previewLimit)
	}
	return title, preview
}
