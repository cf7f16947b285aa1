// ABOUTME: Client-facing event types produced by the stream bridge
// ABOUTME: Each event has a name and a JSON payload that is written as one SSE frame

package bridge

// Event names sent to clients.
const (
	EventThread  = "thread"
	EventTool    = "tool"
	EventMessage = "message"
	EventAskUser = "ask_user"
	EventFinal   = "final"
	EventError   = "error"
)

// Event is one item of a turn's client event stream.
type Event struct {
	Type string
	Data any
}

// Terminal reports whether the event ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventAskUser || e.Type == EventFinal || e.Type == EventError
}

// ThreadData announces the thread a turn runs on.
type ThreadData struct {
	ThreadID string `json:"thread_id"`
}

// ToolData reports a tool call requested by an agent.
type ToolData struct {
	ThreadID     string         `json:"thread_id"`
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Args         map[string]any `json:"args,omitempty"`
	CurrentAgent string         `json:"current_agent,omitempty"`
}

// MessageData carries new assistant text.
type MessageData struct {
	ThreadID     string `json:"thread_id"`
	Speaker      string `json:"speaker"`
	Content      string `json:"content"`
	CurrentAgent string `json:"current_agent,omitempty"`
	HTML         string `json:"html,omitempty"`
}

// AskUserData tells the client the engine is paused for a reply.
type AskUserData struct {
	ThreadID     string `json:"thread_id"`
	Question     string `json:"question,omitempty"`
	CurrentAgent string `json:"current_agent,omitempty"`
	Speaker      string `json:"speaker,omitempty"`
}

// FinalData carries the concluding assistant text.
type FinalData struct {
	ThreadID     string `json:"thread_id"`
	Message      string `json:"message"`
	CurrentAgent string `json:"current_agent,omitempty"`
	HTML         string `json:"html,omitempty"`
}

// ErrorData reports a failed turn.
type ErrorData struct {
	ThreadID string `json:"thread_id"`
	Error    string `json:"error"`
}
