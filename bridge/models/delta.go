package models

import "encoding/json"

// Delta frame types.
const (
	DeltaTypeStatus       = "status"
	DeltaTypeActivity     = "activity"
	DeltaTypeContent      = "content"
	DeltaTypeThinking     = "thinking_content"
	DeltaTypeToolInput    = "tool_input"
	DeltaTypeToolStart    = "tool_start"
	DeltaTypeToolComplete = "tool_complete"
	DeltaTypeAskUser      = "ask_user"
	DeltaTypeMessageStart = "message_start"
	DeltaTypeAPIError     = "api_error"
)

// Activity values for activity deltas.
const (
	ActivityWriting  = "writing"
	ActivityTool     = "tool"
	ActivityThinking = "thinking"
)

// Delta is an incremental update broadcast as a `delta` SSE frame. Type
// selects which payload fields are populated. Append marks streaming flush
// frames: the client appends Text to the block at Index instead of replacing
// it.
type Delta struct {
	Type   string `json:"type"`
	Folder string `json:"folder,omitempty"`

	Status     string   `json:"status,omitempty"`
	ContextPct *float64 `json:"contextPct,omitempty"`

	Activity string `json:"activity,omitempty"`

	Index  *int   `json:"index,omitempty"`
	Text   string `json:"text,omitempty"`
	Append bool   `json:"append,omitempty"`

	Tool      *ToolCall `json:"tool,omitempty"`
	ToolUseID string    `json:"toolUseId,omitempty"`
	Output    string    `json:"output,omitempty"`

	Questions json.RawMessage `json:"questions,omitempty"`

	Error string `json:"error,omitempty"`
}

// Structural reports whether this delta must always be delivered. Only
// streaming flush frames (Append set) may be skipped under back-pressure.
func (d *Delta) Structural() bool {
	return !d.Append
}

// Idx is a convenience for building index-carrying deltas (index 0 must
// survive omitempty).
func Idx(i int) *int { return &i }
