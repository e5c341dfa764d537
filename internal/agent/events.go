package agent

import "time"

// EventKind identifies a loop lifecycle event.
type EventKind string

const (
	// EventTurnStarted fires when a model round trip begins.
	EventTurnStarted EventKind = "turn_started"

	// EventToolExecuting fires once per requested tool call, before
	// dispatch.
	EventToolExecuting EventKind = "tool_executing"

	// EventTerminated fires when the loop reaches its terminal state,
	// normally or by exhausting the turn budget.
	EventTerminated EventKind = "terminated"

	// EventError fires when the loop terminates because of a failure.
	EventError EventKind = "error"
)

// Event is one observable lifecycle notification. The UI renders these
// as progress indicators and transient notifications.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Turn           int       `json:"turn,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Listener receives lifecycle events. Called synchronously from the
// loop goroutine; implementations must not block.
type Listener func(Event)
