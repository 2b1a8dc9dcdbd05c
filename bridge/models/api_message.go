package models

import "encoding/json"

// APIMessage is the model-API message embedded in assistant and user events.
// Content has different shapes depending on the role:
// - User messages: string (plain text) or []ContentBlock (tool results)
// - Assistant messages: []ContentBlock
type APIMessage struct {
	Role         string          `json:"role,omitempty"`
	ID           string          `json:"id,omitempty"`
	Type         string          `json:"type,omitempty"`
	Model        string          `json:"model,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	StopReason   *string         `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// ContentText returns the content as a plain string, if it is one.
func (m *APIMessage) ContentText() (string, bool) {
	if len(m.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// ContentBlocks returns the content as a block array, or nil if the content
// is a plain string (or absent).
func (m *APIMessage) ContentBlocks() []ContentBlock {
	if len(m.Content) == 0 {
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// SetBlocks replaces the content with a block array.
func (m *APIMessage) SetBlocks(blocks []ContentBlock) {
	data, err := json.Marshal(blocks)
	if err != nil {
		return
	}
	m.Content = data
}

// TokenUsage represents token usage statistics.
type TokenUsage struct {
	InputTokens              int    `json:"input_tokens,omitempty"`
	OutputTokens             int    `json:"output_tokens,omitempty"`
	CacheCreationInputTokens int    `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int    `json:"cache_read_input_tokens,omitempty"`
	ServiceTier              string `json:"service_tier,omitempty"`
}

// ContextTokens returns the token count that occupies the context window:
// fresh input plus everything served from or written to cache.
func (u *TokenUsage) ContextTokens() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}
