package models

import "encoding/json"

// Worker stdout event kinds.
const (
	EventSystem      = "system"
	EventStreamEvent = "stream_event"
	EventAssistant   = "assistant"
	EventUser        = "user"
	EventResult      = "result"
)

// WorkerEvent is one line of the Worker's stdout stream: a flat envelope whose
// populated fields depend on Type. The bridge parses every line into this
// shape and dispatches on Type/Subtype.
type WorkerEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// type == "system", subtype == "init"
	Cwd            string      `json:"cwd,omitempty"`
	Model          string      `json:"model,omitempty"`
	Tools          []string    `json:"tools,omitempty"`
	SlashCommands  []string    `json:"slash_commands,omitempty"`
	MCPServers     []MCPServer `json:"mcp_servers,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`

	// type == "assistant" | "user"
	Message           *APIMessage `json:"message,omitempty"`
	IsApiErrorMessage bool        `json:"isApiErrorMessage,omitempty"`
	ParentToolUseID   *string     `json:"parent_tool_use_id,omitempty"`

	// type == "stream_event"
	Event *StreamEvent `json:"event,omitempty"`

	// type == "result"
	IsError       bool            `json:"is_error,omitempty"`
	Result        string          `json:"result,omitempty"`
	NumTurns      int             `json:"num_turns,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	DurationAPIMs int64           `json:"duration_api_ms,omitempty"`
	TotalCostUSD  float64         `json:"total_cost_usd,omitempty"`
	Usage         *TokenUsage     `json:"usage,omitempty"`
	ModelUsage    json.RawMessage `json:"modelUsage,omitempty"`
}

// MCPServer reports one MCP server's status in the init event.
type MCPServer struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "connected" or "disabled"
}

// ReplayRecord wraps a journal-derived event in the shape the live stream
// consumer expects, so replay and live paths share one handler.
type ReplayRecord struct {
	Source string      `json:"source"`
	Event  WorkerEvent `json:"event"`
}

// IsInit reports whether this is the per-turn system init event.
func (e *WorkerEvent) IsInit() bool {
	return e.Type == EventSystem && e.Subtype == "init"
}
