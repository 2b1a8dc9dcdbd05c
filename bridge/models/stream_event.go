package models

import "encoding/json"

// Inner stream event kinds (the Worker relays these from the model API).
const (
	StreamMessageStart      = "message_start"
	StreamContentBlockStart = "content_block_start"
	StreamContentBlockDelta = "content_block_delta"
	StreamContentBlockStop  = "content_block_stop"
	StreamMessageDelta      = "message_delta"
	StreamMessageStop       = "message_stop"
)

// Delta kinds inside a content_block_delta event. Journals use "thinking"
// where the live stream uses "thinking_delta"; both are accepted.
const (
	DeltaText         = "text_delta"
	DeltaInputJSON    = "input_json_delta"
	DeltaThinking     = "thinking_delta"
	DeltaThinkingJrnl = "thinking"
)

// StreamEvent is the inner event carried by a stream_event envelope.
type StreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index,omitempty"`
	ContentBlock *ContentBlock   `json:"content_block,omitempty"`
	Delta        *StreamDelta    `json:"delta,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// StreamDelta is the payload of a content_block_delta (or message_delta).
type StreamDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Payload returns the accumulable fragment for a block delta, or "" for
// delta kinds that carry none (signature_delta and friends).
func (d *StreamDelta) Payload() string {
	switch d.Type {
	case DeltaText:
		return d.Text
	case DeltaInputJSON:
		return d.PartialJSON
	case DeltaThinking, DeltaThinkingJrnl:
		return d.Thinking
	}
	return ""
}
