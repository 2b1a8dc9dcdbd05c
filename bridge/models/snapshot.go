package models

// Session status values surfaced to clients.
const (
	StatusWorking = "working"
	StatusIdle    = "idle"
	StatusError   = "error"
)

// Tool call status values.
const (
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Snapshot is the full client-facing conversation state, broadcast as a
// `state` frame on turn end, on API error, and on Worker exit.
type Snapshot struct {
	SessionID     string         `json:"sessionId"`
	Folder        string         `json:"folder,omitempty"`
	Model         string         `json:"model,omitempty"`
	Status        string         `json:"status"`
	ContextPct    float64        `json:"contextPct,omitempty"`
	Messages      []Message      `json:"messages"`
	SlashCommands []SlashCommand `json:"slashCommands,omitempty"`
	LastTurn      *TurnMetrics   `json:"lastTurn,omitempty"`
}

// Message is one entry in the rendered conversation.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Synthetic bool       `json:"synthetic,omitempty"`
}

// ToolCall is a tool invocation within an assistant message. Output and a
// terminal status are patched in when the matching tool result arrives.
type ToolCall struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Input  map[string]interface{} `json:"input,omitempty"`
	Output string                 `json:"output,omitempty"`
	Status string                 `json:"status"`
}

// SlashCommand describes one command the Worker accepts. Local commands are
// handled client-side without a round trip.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Local       bool   `json:"local,omitempty"`
}

// TurnMetrics summarizes the turn that just completed.
type TurnMetrics struct {
	DurationMs   int64   `json:"durationMs"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	ToolCalls    int     `json:"toolCalls"`
	ContextPct   float64 `json:"contextPct,omitempty"`
}
