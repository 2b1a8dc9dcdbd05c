package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

const multiToolJournal = `{"type":"user","sessionId":"s1","message":{"role":"user","content":"list the files"}}
{"type":"assistant","sessionId":"s1","message":{"id":"msg_1","role":"assistant","model":"opus","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}],"usage":{"input_tokens":100,"output_tokens":10}}}
{"type":"user","sessionId":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"a.txt\nb.txt"}]}}
{"type":"assistant","sessionId":"s1","message":{"id":"msg_1","role":"assistant","model":"opus","content":[{"type":"text","text":"Two files."}],"usage":{"input_tokens":120,"output_tokens":25}}}
`

func TestParseJournal_MergesAssistantAcrossToolResults(t *testing.T) {
	records, malformed := ParseJournal(strings.NewReader(multiToolJournal))
	if malformed != 0 {
		t.Fatalf("expected no malformed lines, got %d", malformed)
	}

	// user, merged assistant, tool-result user, synthesized result
	if len(records) != 4 {
		t.Fatalf("expected 4 replay records, got %d", len(records))
	}

	if records[0].Event.Type != models.EventUser {
		t.Errorf("record 0 should be the user prompt, got %s", records[0].Event.Type)
	}

	asst := records[1].Event
	if asst.Type != models.EventAssistant {
		t.Fatalf("record 1 should be the merged assistant, got %s", asst.Type)
	}
	blocks := asst.Message.ContentBlocks()
	if len(blocks) != 2 {
		t.Fatalf("merged assistant should hold both content blocks, got %d", len(blocks))
	}
	if blocks[0].Type != "tool_use" || blocks[1].Type != "text" {
		t.Errorf("blocks out of order: %s then %s", blocks[0].Type, blocks[1].Type)
	}
	if asst.Message.Usage == nil || asst.Message.Usage.OutputTokens != 25 {
		t.Error("merged assistant must carry the latest usage")
	}

	// the merged assistant keeps its first position so the tool result that
	// follows still finds the tool call it patches
	if records[2].Event.Type != models.EventUser {
		t.Errorf("record 2 should be the tool-result user record, got %s", records[2].Event.Type)
	}

	last := records[len(records)-1].Event
	if last.Type != models.EventResult || last.Subtype != "success" {
		t.Fatalf("expected a synthesized trailing result, got %s/%s", last.Type, last.Subtype)
	}
	if last.Usage == nil || last.Usage.InputTokens != 120 {
		t.Error("synthesized result must carry the last observed usage")
	}
}

func TestParseJournal_SkipsBookkeeping(t *testing.T) {
	journal := `{"type":"queue-operation","operation":"dequeue"}
{"type":"user","isMeta":true,"message":{"role":"user","content":"<command-name>clear</command-name>"}}
{"type":"system","subtype":"turn_duration","durationMs":1234}
{"type":"progress","data":{}}
{"type":"user","sessionId":"s2","message":{"role":"user","content":"real prompt"}}
{"type":"assistant","sessionId":"s2","message":{"id":"m1","role":"assistant","content":[{"type":"text","text":"hi"}]}}
`
	records, malformed := ParseJournal(strings.NewReader(journal))
	if malformed != 0 {
		t.Fatalf("bookkeeping records are not malformed, got %d", malformed)
	}
	// real user + assistant + synthesized result
	if len(records) != 3 {
		t.Fatalf("expected 3 replay records, got %d", len(records))
	}
	text, _ := records[0].Event.Message.ContentText()
	if text != "real prompt" {
		t.Errorf("expected the real prompt to survive, got %q", text)
	}
}

func TestParseJournal_CountsMalformedLines(t *testing.T) {
	journal := `not json at all
{"type":"user","message":{"role":"user","content":"ok"}}
{"type":"assistant"}
{broken
`
	records, malformed := ParseJournal(strings.NewReader(journal))
	if malformed != 3 {
		t.Errorf("expected 3 malformed lines, got %d", malformed)
	}
	// surviving user + synthesized result
	if len(records) != 2 {
		t.Errorf("expected 2 replay records, got %d", len(records))
	}
}

func TestParseJournal_Empty(t *testing.T) {
	records, malformed := ParseJournal(strings.NewReader(""))
	if records != nil {
		t.Errorf("empty journal must not synthesize a result, got %d records", len(records))
	}
	if malformed != 0 {
		t.Errorf("expected 0 malformed, got %d", malformed)
	}
}

func TestParseJournal_DistinctAssistantIDs(t *testing.T) {
	journal := `{"type":"assistant","message":{"id":"m1","role":"assistant","content":[{"type":"text","text":"one"}]}}
{"type":"assistant","message":{"id":"m2","role":"assistant","content":[{"type":"text","text":"two"}]}}
`
	records, _ := ParseJournal(strings.NewReader(journal))
	// two assistants + synthesized result
	if len(records) != 3 {
		t.Fatalf("expected 3 replay records, got %d", len(records))
	}
	if records[0].Event.Message.ID != "m1" || records[1].Event.Message.ID != "m2" {
		t.Error("distinct ids must stay separate messages")
	}
}

func TestRecoverLocalCommandOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	journal := `{"type":"user","message":{"role":"user","content":"<command-name>/context</command-name>"}}
{"type":"user","message":{"role":"user","content":"<local-command-stdout>stale output</local-command-stdout>"}}
{"type":"user","message":{"role":"user","content":"<local-command-stdout>Context usage: 42%\nFree: 116k tokens</local-command-stdout>"}}
`
	if err := os.WriteFile(path, []byte(journal), 0o644); err != nil {
		t.Fatal(err)
	}

	body, ok := RecoverLocalCommandOutput(path)
	if !ok {
		t.Fatal("expected recovery to find the wrapper")
	}
	if body != "Context usage: 42%\nFree: 116k tokens" {
		t.Errorf("latest wrapper must win, got %q", body)
	}
}

func TestRecoverLocalCommandOutput_Absent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"user","message":{"role":"user","content":"plain"}}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := RecoverLocalCommandOutput(path); ok {
		t.Error("expected no recovery without a wrapper")
	}
	if _, ok := RecoverLocalCommandOutput(filepath.Join(dir, "missing.jsonl")); ok {
		t.Error("expected no recovery for a missing file")
	}
}

func TestRecoverLocalCommandOutput_ReadsOnlyTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	var b strings.Builder
	b.WriteString(`{"type":"user","message":{"role":"user","content":"<local-command-stdout>buried long ago</local-command-stdout>"}}` + "\n")
	filler := `{"type":"assistant","message":{"id":"mX","role":"assistant","content":[{"type":"text","text":"` + strings.Repeat("x", 200) + `"}]}}` + "\n"
	for i := 0; i < 100; i++ {
		b.WriteString(filler)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := RecoverLocalCommandOutput(path); ok {
		t.Error("a wrapper outside the tail window must not be found")
	}
}

func TestUnwrapLocalCommandOutput(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"<local-command-stdout>hello</local-command-stdout>", "hello", true},
		{"prefix <local-command-stdout>  body  </local-command-stdout> suffix", "body", true},
		{"<local-command-stdout>truncated record", "truncated record", true},
		{"no wrapper here", "", false},
	}
	for _, tt := range tests {
		got, ok := unwrapLocalCommandOutput(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("unwrapLocalCommandOutput(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
