package bridge

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

// journalTailBytes bounds the read for local-command output recovery.
const journalTailBytes = 8 * 1024

// localCommandOpen/Close wrap slash-command output in journal user records.
const (
	localCommandOpen  = "<local-command-stdout>"
	localCommandClose = "</local-command-stdout>"
)

// journalEntry is one replayable position in parse order. Exactly one field
// is set.
type journalEntry struct {
	user      *models.WorkerEvent
	assistant *assistantAccum
}

// assistantAccum collects the content blocks of one assistant message while
// later records under the same id may still extend it.
type assistantAccum struct {
	id        string
	sessionID string
	model     string
	blocks    []models.ContentBlock
	usage     *models.TokenUsage
}

// ParseJournal converts a newline-delimited session journal into a replayable
// event sequence. Bookkeeping records (queue-operation, progress, system,
// meta-flagged user) are dropped. Consecutive assistant records sharing a
// message id merge into one, and the merge survives interleaved tool-result
// user records: a multi-tool turn journals assistant(tool_use),
// user(tool_result), assistant(text) all under one id, and treating the user
// record as a flush boundary would duplicate the assistant message on replay.
// The merged assistant keeps its first position so tool results still follow
// the tool calls they patch.
//
// A terminal result event carrying the last observed usage is appended so
// downstream consumers see the same shape as a live stream. The second return
// is the count of malformed lines (skipped, reported by the caller).
func ParseJournal(r io.Reader) ([]models.ReplayRecord, int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var entries []journalEntry
	var open *assistantAccum
	var lastUsage *models.TokenUsage
	var sessionID string
	malformed := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.JournalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			malformed++
			continue
		}
		if rec.SessionID != "" {
			sessionID = rec.SessionID
		}

		switch rec.Type {
		case "assistant":
			if rec.Message == nil {
				malformed++
				continue
			}
			if rec.Message.Usage != nil {
				lastUsage = rec.Message.Usage
			}
			id := rec.Message.ID
			if open != nil && id != "" && open.id == id {
				open.blocks = append(open.blocks, rec.Message.ContentBlocks()...)
				if rec.Message.Usage != nil {
					open.usage = rec.Message.Usage
				}
				continue
			}
			open = &assistantAccum{
				id:        id,
				sessionID: rec.SessionID,
				model:     rec.Message.Model,
				blocks:    rec.Message.ContentBlocks(),
				usage:     rec.Message.Usage,
			}
			entries = append(entries, journalEntry{assistant: open})

		case "user":
			if rec.IsMeta {
				continue
			}
			if rec.Message == nil {
				malformed++
				continue
			}
			// Leave any open assistant merge alone: tool results
			// interleave mid-merge.
			entries = append(entries, journalEntry{user: &models.WorkerEvent{
				Type:      models.EventUser,
				SessionID: rec.SessionID,
				Message:   rec.Message,
			}})
		}
	}

	if len(entries) == 0 {
		return nil, malformed
	}

	out := make([]models.ReplayRecord, 0, len(entries)+1)
	for _, e := range entries {
		if e.assistant != nil {
			msg := &models.APIMessage{
				Role:  "assistant",
				ID:    e.assistant.id,
				Model: e.assistant.model,
				Usage: e.assistant.usage,
			}
			msg.SetBlocks(e.assistant.blocks)
			out = append(out, models.ReplayRecord{Source: "worker", Event: models.WorkerEvent{
				Type:      models.EventAssistant,
				SessionID: e.assistant.sessionID,
				Message:   msg,
			}})
			continue
		}
		out = append(out, models.ReplayRecord{Source: "worker", Event: *e.user})
	}
	out = append(out, models.ReplayRecord{Source: "worker", Event: models.WorkerEvent{
		Type:      models.EventResult,
		Subtype:   "success",
		SessionID: sessionID,
		Usage:     lastUsage,
	}})
	return out, malformed
}

// RecoverLocalCommandOutput scans the tail of a journal for the
// local-command-stdout record a slash-command turn leaves behind. Those turns
// produce no stream blocks, so this record is the only rendering of their
// output. The latest match wins.
func RecoverLocalCommandOutput(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false
	}
	offset := info.Size() - journalTailBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", false
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), journalTailBytes*4)

	var out string
	var found bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// The first line after an offset seek is usually a fragment;
		// the unmarshal below rejects it.
		if line == "" || !strings.Contains(line, localCommandOpen) {
			continue
		}
		var rec models.JournalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type != "user" || rec.Message == nil {
			continue
		}
		text, ok := rec.Message.ContentText()
		if !ok {
			continue
		}
		if body, ok := unwrapLocalCommandOutput(text); ok {
			out = body
			found = true
		}
	}
	return out, found
}

// unwrapLocalCommandOutput extracts the body of a local-command-stdout
// wrapper; the close tag is optional on truncated records.
func unwrapLocalCommandOutput(s string) (string, bool) {
	start := strings.Index(s, localCommandOpen)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(localCommandOpen):]
	if end := strings.Index(rest, localCommandClose); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}
