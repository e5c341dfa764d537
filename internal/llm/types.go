// Package llm implements the model gateway: it translates conversation
// state into upstream provider requests and normalizes the heterogeneous
// response shapes of different providers into one internal result type.
package llm

// Message is a chat message in provider-neutral form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool-role messages only
}

// ToolCall is a structured invocation emitted by the model asking the
// system to run a named tool. Arguments is the raw serialized string the
// model produced; parsing it is the dispatcher's job, since a malformed
// payload must degrade to an empty argument set rather than abort the turn.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the normalized result of one completion call. It is the
// single seam isolating the rest of the system from provider differences:
// nothing downstream pattern-matches on raw provider shapes.
type Response struct {
	// Content is the textual answer, empty when the model instead
	// requested tool calls.
	Content string

	// ToolCalls are the tool invocations the model requested, in the
	// order the provider emitted them.
	ToolCalls []ToolCall
}

// Options shape one completion request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64

	// APIKey and BaseURL override the client's startup values for this
	// call. Empty means keep the configured value. Runtime settings
	// changes take effect through these without rebuilding the client.
	APIKey  string
	BaseURL string

	// Tools advertises the registry to the model, in chat-completions
	// {type:"function", function:{...}} form.
	Tools []map[string]any
}

// Model describes one entry in the model picker listing.
type Model struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}
