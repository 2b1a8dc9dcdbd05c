package bridge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

// askUserToolName is surfaced out of band instead of as a tool call.
const askUserToolName = "AskUserQuestion"

// defaultContextWindow is assumed until a result event reports the real one.
const defaultContextWindow = 200_000

// localSlashCommands are handled client-side without a Worker round trip.
var localSlashCommands = map[string]bool{
	"context": true,
	"cost":    true,
	"compact": true,
	"help":    true,
	"clear":   true,
}

// apiErrorRe matches the Worker's "API Error: <status> <json body>" text.
var apiErrorRe = regexp.MustCompile(`API Error:\s*(\d+)\s*(\{.*\})`)

// toolPos locates one tool call inside the committed message list.
type toolPos struct {
	msg  int
	tool int
}

// StateBuilder reconstructs a client-facing conversation from the Worker's
// event stream. It is deterministic and side-effect free: events go in,
// deltas come out, and the current snapshot is available from a getter. Live
// streams and journal replays drive the same handler.
type StateBuilder struct {
	sessionID     string
	folder        string
	model         string
	status        string
	contextPct    float64
	contextWindow int
	messages      []models.Message
	slashCommands []models.SlashCommand

	// Streaming scratch for the in-flight assistant message. Cleared on
	// message_start and on block-index reuse (the Worker restarts indices
	// at 0 for inner API calls within one turn, without a message_start).
	blockKinds       map[int]string
	textBlocks       map[int]string
	thinkingBlocks   map[int]string
	toolJSON         map[int]string
	toolBlocks       map[int]*models.ToolCall
	suppressedBlocks map[int]string // block index -> AskUserQuestion tool-use id
	scratchCommitted bool           // the scratch belongs to an already committed message

	// Per-turn bookkeeping, reset on system/init.
	seenMessageIDs    map[string]bool
	outputTokensByID  map[string]int
	lastInputTokens   int
	toolCallsThisTurn int
	committedThisTurn bool
	currentMsgIdx     int
	toolPositions     map[string]toolPos
	suppressedToolIDs map[string]bool
	hadContent        bool

	replaying bool
}

// NewStateBuilder returns an empty builder for a folder and resolved session.
func NewStateBuilder(folder, sessionID string) *StateBuilder {
	b := &StateBuilder{
		folder:        folder,
		sessionID:     sessionID,
		status:        models.StatusIdle,
		contextWindow: defaultContextWindow,
		currentMsgIdx: -1,
	}
	b.clearScratch()
	b.resetTurn()
	return b
}

func (b *StateBuilder) clearScratch() {
	b.blockKinds = make(map[int]string)
	b.textBlocks = make(map[int]string)
	b.thinkingBlocks = make(map[int]string)
	b.toolJSON = make(map[int]string)
	b.toolBlocks = make(map[int]*models.ToolCall)
	b.suppressedBlocks = make(map[int]string)
	b.scratchCommitted = false
}

func (b *StateBuilder) resetTurn() {
	b.outputTokensByID = make(map[string]int)
	b.toolCallsThisTurn = 0
	b.committedThisTurn = false
	b.currentMsgIdx = -1
	b.toolPositions = make(map[string]toolPos)
	b.suppressedToolIDs = make(map[string]bool)
	b.hadContent = false
	if b.seenMessageIDs == nil {
		b.seenMessageIDs = make(map[string]bool)
	}
}

// SetSessionID overrides the session id (re-resolution without an init yet).
func (b *StateBuilder) SetSessionID(id string) { b.sessionID = id }

// SetStatus forces the surfaced status (spawn failures, init timeouts).
func (b *StateBuilder) SetStatus(status string) { b.status = status }

// Status returns the current surfaced status.
func (b *StateBuilder) Status() string { return b.status }

// HadContentThisTurn reports whether the turn produced any content block.
// Slash-command turns do not; their output is recovered from the journal.
func (b *StateBuilder) HadContentThisTurn() bool { return b.hadContent }

// HandleEvent advances the state machine by one Worker event and returns the
// deltas to broadcast, if any.
func (b *StateBuilder) HandleEvent(ev *models.WorkerEvent) []models.Delta {
	switch ev.Type {
	case models.EventSystem:
		if ev.Subtype == "init" {
			return b.handleInit(ev)
		}
	case models.EventStreamEvent:
		if ev.Event != nil {
			return b.handleStream(ev.Event)
		}
	case models.EventAssistant:
		return b.handleAssistant(ev)
	case models.EventUser:
		return b.handleUser(ev)
	case models.EventResult:
		return b.handleResult(ev)
	}
	return nil
}

// ReplayFromJournal drives a parsed journal through the state machine.
// Replay streams carry no message_start, so assistant commits clear the
// streaming scratch themselves while the flag is set.
func (b *StateBuilder) ReplayFromJournal(records []models.ReplayRecord) {
	b.replaying = true
	defer func() { b.replaying = false }()
	for i := range records {
		b.HandleEvent(&records[i].Event)
	}
}

// AddUserText injects a locally submitted prompt so clients render it
// without waiting for the Worker's echo (which is filtered anyway).
func (b *StateBuilder) AddUserText(text string) {
	b.pushUserText(text)
}

// AddLocalCommandOutput injects recovered slash-command output.
func (b *StateBuilder) AddLocalCommandOutput(body string) {
	b.messages = append(b.messages, models.Message{
		Role:      "assistant",
		Content:   body,
		Synthetic: true,
	})
}

// Snapshot returns a copy of the current conversation state.
func (b *StateBuilder) Snapshot() models.Snapshot {
	msgs := make([]models.Message, len(b.messages))
	copy(msgs, b.messages)
	for i := range msgs {
		if len(msgs[i].ToolCalls) > 0 {
			tools := make([]models.ToolCall, len(msgs[i].ToolCalls))
			copy(tools, msgs[i].ToolCalls)
			msgs[i].ToolCalls = tools
		}
	}
	cmds := make([]models.SlashCommand, len(b.slashCommands))
	copy(cmds, b.slashCommands)
	return models.Snapshot{
		SessionID:     b.sessionID,
		Folder:        b.folder,
		Model:         b.model,
		Status:        b.status,
		ContextPct:    b.contextPct,
		Messages:      msgs,
		SlashCommands: cmds,
	}
}

// TurnMetrics summarizes the turn using the per-id output-token map: partial
// emissions of one message overwrite the same id, distinct ids sum.
func (b *StateBuilder) TurnMetrics(durationMs int64) models.TurnMetrics {
	output := 0
	for _, n := range b.outputTokensByID {
		output += n
	}
	return models.TurnMetrics{
		DurationMs:   durationMs,
		InputTokens:  b.lastInputTokens,
		OutputTokens: output,
		ToolCalls:    b.toolCallsThisTurn,
		ContextPct:   b.contextPct,
	}
}

func (b *StateBuilder) handleInit(ev *models.WorkerEvent) []models.Delta {
	b.resetTurn()
	if ev.SessionID != "" {
		b.sessionID = ev.SessionID
	}
	if ev.Model != "" {
		b.model = ev.Model
	}
	if len(ev.SlashCommands) > 0 {
		cmds := make([]models.SlashCommand, 0, len(ev.SlashCommands))
		for _, name := range ev.SlashCommands {
			cmds = append(cmds, models.SlashCommand{
				Name:  name,
				Local: localSlashCommands[name],
			})
		}
		b.slashCommands = cmds
	}
	b.status = models.StatusWorking
	return nil
}

func (b *StateBuilder) handleStream(inner *models.StreamEvent) []models.Delta {
	switch inner.Type {
	case models.StreamMessageStart:
		b.clearScratch()
		return []models.Delta{{Type: models.DeltaTypeMessageStart}}

	case models.StreamContentBlockStart:
		return b.handleBlockStart(inner)

	case models.StreamContentBlockDelta:
		b.handleBlockDelta(inner)
		return nil

	case models.StreamContentBlockStop:
		return b.handleBlockStop(inner)
	}
	return nil
}

func (b *StateBuilder) handleBlockStart(inner *models.StreamEvent) []models.Delta {
	idx := inner.Index
	if _, reused := b.blockKinds[idx]; reused {
		// Inner API call within the same turn: indices restart at 0
		// without a message_start. Dedup state and per-turn counters
		// survive; the scratch does not.
		b.clearScratch()
	}
	if inner.ContentBlock == nil {
		return nil
	}
	kind := inner.ContentBlock.Type
	b.blockKinds[idx] = kind
	b.hadContent = true

	switch kind {
	case "text":
		return []models.Delta{{Type: models.DeltaTypeActivity, Activity: models.ActivityWriting}}
	case "thinking":
		return []models.Delta{{Type: models.DeltaTypeActivity, Activity: models.ActivityThinking}}
	case "tool_use":
		if inner.ContentBlock.Name == askUserToolName {
			b.suppressedBlocks[idx] = inner.ContentBlock.ID
			if inner.ContentBlock.ID != "" {
				b.suppressedToolIDs[inner.ContentBlock.ID] = true
			}
			return nil
		}
		b.toolBlocks[idx] = &models.ToolCall{
			ID:     inner.ContentBlock.ID,
			Name:   inner.ContentBlock.Name,
			Status: models.ToolRunning,
		}
		return []models.Delta{{Type: models.DeltaTypeActivity, Activity: models.ActivityTool}}
	}
	return nil
}

func (b *StateBuilder) handleBlockDelta(inner *models.StreamEvent) {
	if inner.Delta == nil {
		return
	}
	idx := inner.Index
	switch inner.Delta.Type {
	case models.DeltaText:
		b.textBlocks[idx] += inner.Delta.Text
	case models.DeltaThinking, models.DeltaThinkingJrnl:
		b.thinkingBlocks[idx] += inner.Delta.Thinking
	case models.DeltaInputJSON:
		b.toolJSON[idx] += inner.Delta.PartialJSON
	}
}

func (b *StateBuilder) handleBlockStop(inner *models.StreamEvent) []models.Delta {
	idx := inner.Index
	switch b.blockKinds[idx] {
	case "text":
		joined := joinIndexed(b.textBlocks)
		if b.scratchCommitted && b.currentMsgIdx >= 0 {
			b.messages[b.currentMsgIdx].Content = joined
		}
		return []models.Delta{{Type: models.DeltaTypeContent, Index: models.Idx(idx), Text: joined}}

	case "thinking":
		joined := joinIndexed(b.thinkingBlocks)
		if b.scratchCommitted && b.currentMsgIdx >= 0 {
			b.messages[b.currentMsgIdx].Thinking = joined
		}
		return []models.Delta{{Type: models.DeltaTypeThinking, Index: models.Idx(idx), Text: joined}}

	case "tool_use":
		if toolID, suppressed := b.suppressedBlocks[idx]; suppressed {
			return b.emitAskUser(idx, toolID)
		}
		return b.commitToolBlock(idx)
	}
	return nil
}

// emitAskUser surfaces a completed AskUserQuestion block as an ask_user
// delta. The tool never counts toward turn metrics.
func (b *StateBuilder) emitAskUser(idx int, toolID string) []models.Delta {
	d := models.Delta{Type: models.DeltaTypeAskUser, ToolUseID: toolID}
	var input struct {
		Questions json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(b.toolJSON[idx]), &input); err == nil {
		d.Questions = input.Questions
	}
	return []models.Delta{d}
}

// commitToolBlock finalizes a non-suppressed tool_use block: parse the
// accumulated input JSON, bump the turn counter, patch the committed message
// when the scratch already belongs to one, and emit tool_start.
func (b *StateBuilder) commitToolBlock(idx int) []models.Delta {
	tc := b.toolBlocks[idx]
	if tc == nil {
		return nil
	}
	var input map[string]interface{}
	if raw := b.toolJSON[idx]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err == nil {
			tc.Input = input
		}
	}
	b.toolCallsThisTurn++

	if b.scratchCommitted && b.currentMsgIdx >= 0 {
		if pos, ok := b.toolPositions[tc.ID]; ok {
			b.messages[pos.msg].ToolCalls[pos.tool].Input = tc.Input
		} else {
			msg := &b.messages[b.currentMsgIdx]
			msg.ToolCalls = append(msg.ToolCalls, *tc)
			b.toolPositions[tc.ID] = toolPos{msg: b.currentMsgIdx, tool: len(msg.ToolCalls) - 1}
		}
	}
	return []models.Delta{{Type: models.DeltaTypeToolStart, Tool: tc}}
}

func (b *StateBuilder) handleAssistant(ev *models.WorkerEvent) []models.Delta {
	if ev.Message == nil {
		return nil
	}
	if ev.IsApiErrorMessage {
		return b.handleAPIError(ev)
	}

	// Usage is extracted on every emission, dedup hits included: the
	// Worker re-emits the same id with growing counts.
	if u := ev.Message.Usage; u != nil {
		if ev.Message.ID != "" {
			b.outputTokensByID[ev.Message.ID] = u.OutputTokens
		}
		b.lastInputTokens = u.ContextTokens()
		b.recomputeContextPct()
	}

	id := ev.Message.ID
	if id != "" && b.seenMessageIDs[id] {
		return nil
	}
	if id != "" {
		b.seenMessageIDs[id] = true
	}

	if b.replaying || b.committedThisTurn {
		// Either no message_start exists (replay) or it already fired
		// for an earlier message this turn (inner API call); the final
		// content comes from the complete event instead.
		b.clearScratch()
	}

	msg := b.buildAssistantMessage(ev.Message)
	b.messages = append(b.messages, msg)
	b.currentMsgIdx = len(b.messages) - 1
	b.committedThisTurn = true
	b.scratchCommitted = true

	for j, tc := range b.messages[b.currentMsgIdx].ToolCalls {
		b.toolPositions[tc.ID] = toolPos{msg: b.currentMsgIdx, tool: j}
	}
	return nil
}

// buildAssistantMessage prefers the streaming accumulators and falls back to
// the complete event's content array (the replay path) per field.
func (b *StateBuilder) buildAssistantMessage(m *models.APIMessage) models.Message {
	msg := models.Message{Role: "assistant"}
	blocks := m.ContentBlocks()

	if len(b.textBlocks) > 0 {
		msg.Content = joinIndexed(b.textBlocks)
	} else {
		var parts []string
		for _, blk := range blocks {
			if blk.Type == "text" && blk.Text != "" {
				parts = append(parts, blk.Text)
			}
		}
		msg.Content = strings.Join(parts, "")
	}

	if len(b.thinkingBlocks) > 0 {
		msg.Thinking = joinIndexed(b.thinkingBlocks)
	} else {
		var parts []string
		for _, blk := range blocks {
			if blk.Type == "thinking" && blk.Thinking != "" {
				parts = append(parts, blk.Thinking)
			}
		}
		msg.Thinking = strings.Join(parts, "")
	}

	if len(b.toolBlocks) > 0 {
		idxs := make([]int, 0, len(b.toolBlocks))
		for i := range b.toolBlocks {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			msg.ToolCalls = append(msg.ToolCalls, *b.toolBlocks[i])
		}
	} else {
		for _, blk := range blocks {
			if blk.Type != "tool_use" {
				continue
			}
			if blk.Name == askUserToolName {
				if blk.ID != "" {
					b.suppressedToolIDs[blk.ID] = true
				}
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:     blk.ID,
				Name:   blk.Name,
				Input:  blk.Input,
				Status: models.ToolRunning,
			})
		}
	}
	return msg
}

func (b *StateBuilder) handleAPIError(ev *models.WorkerEvent) []models.Delta {
	text := extractAPIError(ev.Message.ContentBlocks())
	b.status = models.StatusIdle
	b.messages = append(b.messages, models.Message{
		Role:      "assistant",
		Content:   text,
		Synthetic: true,
	})
	return []models.Delta{{Type: models.DeltaTypeAPIError, Error: text}}
}

func (b *StateBuilder) handleUser(ev *models.WorkerEvent) []models.Delta {
	if ev.Message == nil {
		return nil
	}
	if text, ok := ev.Message.ContentText(); ok {
		if body, wrapped := unwrapLocalCommandOutput(text); wrapped {
			b.AddLocalCommandOutput(body)
			return nil
		}
		b.pushUserText(text)
		return nil
	}

	var deltas []models.Delta
	var textParts []string
	sawToolResult := false
	for _, blk := range ev.Message.ContentBlocks() {
		switch blk.Type {
		case "tool_result":
			sawToolResult = true
			if b.suppressedToolIDs[blk.ToolUseID] {
				continue
			}
			if d := b.patchToolResult(&blk); d != nil {
				deltas = append(deltas, *d)
			}
		case "text":
			textParts = append(textParts, blk.Text)
		}
	}
	if !sawToolResult && len(textParts) > 0 {
		b.pushUserText(strings.Join(textParts, "\n"))
	}
	return deltas
}

func (b *StateBuilder) pushUserText(text string) {
	b.messages = append(b.messages, models.Message{
		Role:      "user",
		Content:   text,
		Synthetic: isSyntheticNotice(text),
	})
}

// patchToolResult binds a tool_result to its prior tool call, patching
// output and terminal status in place.
func (b *StateBuilder) patchToolResult(blk *models.ContentBlock) *models.Delta {
	pos, ok := b.toolPositions[blk.ToolUseID]
	if !ok {
		return nil
	}
	tc := &b.messages[pos.msg].ToolCalls[pos.tool]
	tc.Output = blk.ResultText()
	tc.Status = models.ToolCompleted
	if blk.IsError != nil && *blk.IsError {
		tc.Status = models.ToolError
	}
	return &models.Delta{
		Type:      models.DeltaTypeToolComplete,
		ToolUseID: blk.ToolUseID,
		Output:    tc.Output,
		Status:    tc.Status,
	}
}

func (b *StateBuilder) handleResult(ev *models.WorkerEvent) []models.Delta {
	b.status = models.StatusIdle
	if window := contextWindowFromModelUsage(ev.ModelUsage); window > 0 {
		b.contextWindow = window
	}
	b.recomputeContextPct()
	pct := b.contextPct
	return []models.Delta{{
		Type:       models.DeltaTypeStatus,
		Status:     models.StatusIdle,
		ContextPct: &pct,
	}}
}

func (b *StateBuilder) recomputeContextPct() {
	if b.contextWindow <= 0 {
		return
	}
	pct := float64(b.lastInputTokens) / float64(b.contextWindow) * 100
	if pct > 100 {
		pct = 100
	}
	b.contextPct = pct
}

// contextWindowFromModelUsage pulls the largest contextWindow out of a
// result event's per-model usage map.
func contextWindowFromModelUsage(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var usage map[string]struct {
		ContextWindow int `json:"contextWindow"`
	}
	if err := json.Unmarshal(raw, &usage); err != nil {
		return 0
	}
	window := 0
	for _, entry := range usage {
		if entry.ContextWindow > window {
			window = entry.ContextWindow
		}
	}
	return window
}

// isSyntheticNotice reports whether a user text is purely a bridge-injected
// notice. A notice followed by real text after a blank line stays a normal
// message with the prefix intact.
func isSyntheticNotice(text string) bool {
	if !strings.HasPrefix(text, SyntheticPrefix) {
		return false
	}
	if i := strings.Index(text, "\n\n"); i >= 0 && strings.TrimSpace(text[i:]) != "" {
		return false
	}
	return true
}

// extractAPIError turns an error-flagged assistant event into a short
// human-readable line, e.g. "API error 400: Could not process image".
func extractAPIError(blocks []models.ContentBlock) string {
	for _, blk := range blocks {
		if blk.Type != "text" || blk.Text == "" {
			continue
		}
		m := apiErrorRe.FindStringSubmatch(blk.Text)
		if m == nil {
			return blk.Text
		}
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(m[2]), &body); err == nil && body.Error.Message != "" {
			return fmt.Sprintf("API error %s: %s", m[1], body.Error.Message)
		}
		return fmt.Sprintf("API error %s", m[1])
	}
	return "API error"
}

// joinIndexed joins block accumulators in ascending index order.
func joinIndexed(blocks map[int]string) string {
	idxs := make([]int, 0, len(blocks))
	for i := range blocks {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	var sb strings.Builder
	for _, i := range idxs {
		sb.WriteString(blocks[i])
	}
	return sb.String()
}
