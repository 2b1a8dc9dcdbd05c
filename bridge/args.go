package bridge

import "github.com/xiaoyuanzhu-com/gueridon/config"

// allowedTools are auto-approved without prompting. Headless mode cannot
// surface permission prompts, and tool restrictions do not reliably propagate
// into subagents, so this list stays broad and the disallow list below is the
// authoritative negative space.
var allowedTools = []string{
	"AskUserQuestion",
	"Bash",
	"Edit",
	"Glob",
	"Grep",
	"KillShell",
	"NotebookEdit",
	"Read",
	"Skill",
	"Task",
	"TodoWrite",
	"WebFetch",
	"WebSearch",
	"Write",
}

// disallowedTools are refused even though the allow list would admit them.
// Deny rules take precedence over allow rules.
var disallowedTools = []string{
	"Bash(rm -rf *)",
	"Bash(sudo *)",
}

// mobileSystemPrompt is appended to the Worker's system prompt. The
// AskUserQuestion note matters: headless mode cannot answer the tool call
// inline, so the Worker always sees an error result and must treat the next
// user message as the answer.
const mobileSystemPrompt = "You are driven from a mobile client through a bridge; " +
	"the user cannot see your terminal. When you call AskUserQuestion the tool result " +
	"is always an error: the question is shown to the user out of band and the answer " +
	"arrives as the next user message."

// buildWorkerArgs assembles the Worker argv: the fixed headless stream-json
// flag vector, the tool lists, the MCP config, the system-prompt append, and
// finally --resume for a prior session id or --session-id for a fresh one.
func buildWorkerArgs(sessionID string, resume bool) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--replay-user-messages",
		"--permission-mode", "acceptEdits",
	}
	for _, tool := range allowedTools {
		args = append(args, "--allowedTools", tool)
	}
	for _, tool := range disallowedTools {
		args = append(args, "--disallowedTools", tool)
	}
	if mcp := config.Get().MCPConfig; mcp != "" {
		args = append(args, "--mcp-config", mcp)
	}
	args = append(args, "--append-system-prompt", mobileSystemPrompt)

	if resume {
		args = append(args, "--resume", sessionID)
	} else {
		args = append(args, "--session-id", sessionID)
	}
	return args
}
