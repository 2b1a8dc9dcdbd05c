package models

import "encoding/json"

// Prompt is a client-submitted prompt: plain text, structured content
// (image blocks from the deposit layer), or both.
type Prompt struct {
	Text    string            `json:"text,omitempty"`
	Content []json.RawMessage `json:"content,omitempty"`
}

// Empty reports whether the prompt carries nothing deliverable.
func (p *Prompt) Empty() bool {
	return p.Text == "" && len(p.Content) == 0
}

// UserInput is the single-line JSON object written to the Worker's stdin.
// role "user" is mandatory; content is a string or a content array.
type UserInput struct {
	Type    string       `json:"type"`
	Message InputMessage `json:"message"`
}

// InputMessage is the message half of a stdin line.
type InputMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// NewUserInput builds the stdin line for a prompt. Structured content wins
// over text; an all-empty prompt still produces a valid line.
func NewUserInput(p Prompt) UserInput {
	var content interface{} = p.Text
	if len(p.Content) > 0 {
		content = p.Content
	}
	return UserInput{
		Type:    "user",
		Message: InputMessage{Role: "user", Content: content},
	}
}
