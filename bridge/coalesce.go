package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

// CoalescePrompts folds a queued batch into one deliverable prompt. A single
// prompt passes through unchanged; multiple prompts concatenate their text
// with visible [i/N] markers (a prompt without text contributes an empty
// slot) and merge their content arrays in order.
func CoalescePrompts(batch []models.Prompt) models.Prompt {
	if len(batch) == 0 {
		return models.Prompt{}
	}
	if len(batch) == 1 {
		return batch[0]
	}

	parts := make([]string, 0, len(batch))
	var content []json.RawMessage
	for i, p := range batch {
		parts = append(parts, fmt.Sprintf("[%d/%d] %s", i+1, len(batch), p.Text))
		content = append(content, p.Content...)
	}
	return models.Prompt{Text: strings.Join(parts, "\n\n"), Content: content}
}

// IsUserTextEcho reports whether a Worker event is our own prompt replayed
// back: a user event with plain-string content. Clients already rendered the
// prompt when it was submitted, so echoes are dropped. Local-command output
// wrappers carry slash-command results and must pass through, as must
// tool-result events (array content).
func IsUserTextEcho(ev *models.WorkerEvent) bool {
	if ev.Type != models.EventUser || ev.Message == nil {
		return false
	}
	text, ok := ev.Message.ContentText()
	if !ok {
		return false
	}
	return !strings.Contains(text, localCommandOpen)
}

// DeltaKey identifies one accumulation slot for delta conflation: the block
// index plus the delta kind within that block.
type DeltaKey struct {
	Index int
	Kind  string
}

// ConflatableDelta extracts the conflation key and payload fragment from a
// Worker event when it is one of the high-frequency block delta kinds. Any
// other event must flush pending deltas before processing. The journal's
// "thinking" spelling normalizes to the live stream's "thinking_delta" so
// both land in the same slot.
func ConflatableDelta(ev *models.WorkerEvent) (DeltaKey, string, bool) {
	if ev.Type != models.EventStreamEvent || ev.Event == nil {
		return DeltaKey{}, "", false
	}
	inner := ev.Event
	if inner.Type != models.StreamContentBlockDelta || inner.Delta == nil {
		return DeltaKey{}, "", false
	}
	switch inner.Delta.Type {
	case models.DeltaText, models.DeltaInputJSON:
		return DeltaKey{Index: inner.Index, Kind: inner.Delta.Type}, inner.Delta.Payload(), true
	case models.DeltaThinking, models.DeltaThinkingJrnl:
		return DeltaKey{Index: inner.Index, Kind: models.DeltaThinking}, inner.Delta.Payload(), true
	}
	return DeltaKey{}, "", false
}

// FlushDeltaType maps a conflation kind to the client-facing delta type used
// for append-mode flush frames.
func FlushDeltaType(kind string) string {
	switch kind {
	case models.DeltaText:
		return models.DeltaTypeContent
	case models.DeltaThinking:
		return models.DeltaTypeThinking
	case models.DeltaInputJSON:
		return models.DeltaTypeToolInput
	}
	return models.DeltaTypeContent
}
