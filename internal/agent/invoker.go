// ABOUTME: Streaming agent invocation boundary and its typed event stream
// ABOUTME: One Invoke yields session-init, text, tool-use, then exactly one terminal event

package agent

// EventKind indicates the type of a streamed agent event.
type EventKind int

const (
	// EventSessionInit carries the session-continuity token. Emitted at
	// least once per invocation, before any content.
	EventSessionInit EventKind = iota
	// EventText is an incremental text delta.
	EventText
	// EventToolUse reports a tool invocation by the agent.
	EventToolUse
	// EventDone is the successful terminal event; Text holds the full response.
	EventDone
	// EventError is the failed terminal event.
	EventError
)

// ToolUseEvent describes one tool invocation.
type ToolUseEvent struct {
	ID        string
	Name      string
	InputJSON string
}

// Event is one streamed agent event. Exactly one event per invocation has
// Done set; it is the last one on the channel before it closes.
type Event struct {
	Kind      EventKind
	Text      string
	ToolUse   *ToolUseEvent
	SessionID string
	Err       string
	Done      bool
}

// QueryRequest is one prompt to run.
type QueryRequest struct {
	Prompt string
	// SessionID resumes an earlier conversation when non-empty; the invoker
	// assigns a fresh token otherwise and reports it via EventSessionInit.
	SessionID string
	User      string
}
