package models

import "encoding/json"

// JournalRecord is one line of the Worker's on-disk session journal.
// Only user and assistant records survive replay; queue-operation, progress,
// system, and meta-flagged user records are bookkeeping.
type JournalRecord struct {
	Type          string          `json:"type"`
	UUID          string          `json:"uuid,omitempty"`
	ParentUUID    *string         `json:"parentUuid,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	IsMeta        bool            `json:"isMeta,omitempty"`
	Message       *APIMessage     `json:"message,omitempty"`
	ToolUseResult json.RawMessage `json:"toolUseResult,omitempty"`
}
