package bridge

import (
	"encoding/json"
	"testing"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

func TestCoalescePrompts_Single(t *testing.T) {
	p := CoalescePrompts([]models.Prompt{{Text: "just one"}})
	if p.Text != "just one" {
		t.Errorf("single prompt must pass through unmarked, got %q", p.Text)
	}
}

func TestCoalescePrompts_Multiple(t *testing.T) {
	batch := []models.Prompt{
		{Text: "first thing"},
		{Text: "second thing"},
		{Text: "third thing"},
	}
	p := CoalescePrompts(batch)
	want := "[1/3] first thing\n\n[2/3] second thing\n\n[3/3] third thing"
	if p.Text != want {
		t.Errorf("coalesced text = %q, want %q", p.Text, want)
	}
}

func TestCoalescePrompts_MergesContent(t *testing.T) {
	img1 := json.RawMessage(`{"type":"image","id":1}`)
	img2 := json.RawMessage(`{"type":"image","id":2}`)
	batch := []models.Prompt{
		{Text: "look at this", Content: []json.RawMessage{img1}},
		{Text: "and this", Content: []json.RawMessage{img2}},
	}
	p := CoalescePrompts(batch)
	if len(p.Content) != 2 {
		t.Fatalf("expected 2 content entries, got %d", len(p.Content))
	}
	if string(p.Content[0]) != string(img1) || string(p.Content[1]) != string(img2) {
		t.Error("content arrays must merge in order")
	}
}

func TestCoalescePrompts_Empty(t *testing.T) {
	p := CoalescePrompts(nil)
	if !p.Empty() {
		t.Errorf("empty batch must coalesce to an empty prompt, got %+v", p)
	}
}

func userEvent(content string) *models.WorkerEvent {
	return &models.WorkerEvent{
		Type:    models.EventUser,
		Message: &models.APIMessage{Role: "user", Content: json.RawMessage(content)},
	}
}

func TestIsUserTextEcho(t *testing.T) {
	tests := []struct {
		desc string
		ev   *models.WorkerEvent
		echo bool
	}{
		{
			desc: "plain string prompt echo is dropped",
			ev:   userEvent(`"fix the tests"`),
			echo: true,
		},
		{
			desc: "tool results (array content) pass through",
			ev:   userEvent(`[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]`),
			echo: false,
		},
		{
			desc: "local command output wrapper passes through",
			ev:   userEvent(`"<local-command-stdout>total 4</local-command-stdout>"`),
			echo: false,
		},
		{
			desc: "assistant events are never echoes",
			ev: &models.WorkerEvent{
				Type:    models.EventAssistant,
				Message: &models.APIMessage{Role: "assistant", Content: json.RawMessage(`"hi"`)},
			},
			echo: false,
		},
		{
			desc: "user event without message is not an echo",
			ev:   &models.WorkerEvent{Type: models.EventUser},
			echo: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := IsUserTextEcho(tt.ev); got != tt.echo {
				t.Errorf("IsUserTextEcho = %v, want %v", got, tt.echo)
			}
		})
	}
}

func blockDelta(index int, deltaType, payload string) *models.WorkerEvent {
	d := &models.StreamDelta{Type: deltaType}
	switch deltaType {
	case models.DeltaText:
		d.Text = payload
	case models.DeltaInputJSON:
		d.PartialJSON = payload
	case models.DeltaThinking, models.DeltaThinkingJrnl:
		d.Thinking = payload
	}
	return &models.WorkerEvent{
		Type: models.EventStreamEvent,
		Event: &models.StreamEvent{
			Type:  models.StreamContentBlockDelta,
			Index: index,
			Delta: d,
		},
	}
}

func TestConflatableDelta(t *testing.T) {
	key, payload, ok := ConflatableDelta(blockDelta(2, models.DeltaText, "hello"))
	if !ok {
		t.Fatal("text delta must be conflatable")
	}
	if key != (DeltaKey{Index: 2, Kind: models.DeltaText}) {
		t.Errorf("unexpected key %+v", key)
	}
	if payload != "hello" {
		t.Errorf("payload = %q, want hello", payload)
	}

	// journal "thinking" spelling lands in the same slot as the live stream's
	k1, _, _ := ConflatableDelta(blockDelta(0, models.DeltaThinking, "a"))
	k2, _, _ := ConflatableDelta(blockDelta(0, models.DeltaThinkingJrnl, "b"))
	if k1 != k2 {
		t.Errorf("thinking spellings must share a slot: %+v vs %+v", k1, k2)
	}

	if _, _, ok := ConflatableDelta(blockDelta(0, "signature_delta", "x")); ok {
		t.Error("unknown delta kinds must not conflate")
	}

	stop := &models.WorkerEvent{
		Type:  models.EventStreamEvent,
		Event: &models.StreamEvent{Type: models.StreamContentBlockStop, Index: 0},
	}
	if _, _, ok := ConflatableDelta(stop); ok {
		t.Error("block stop must not conflate")
	}

	result := &models.WorkerEvent{Type: models.EventResult}
	if _, _, ok := ConflatableDelta(result); ok {
		t.Error("result events must not conflate")
	}
}

func TestFlushDeltaType(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{models.DeltaText, models.DeltaTypeContent},
		{models.DeltaThinking, models.DeltaTypeThinking},
		{models.DeltaInputJSON, models.DeltaTypeToolInput},
	}
	for _, tt := range tests {
		if got := FlushDeltaType(tt.kind); got != tt.want {
			t.Errorf("FlushDeltaType(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
