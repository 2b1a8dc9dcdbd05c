package bridge

import (
	"testing"

	"github.com/xiaoyuanzhu-com/gueridon/config"
)

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestBuildWorkerArgs(t *testing.T) {
	args := buildWorkerArgs("abc-123", false)

	for _, flag := range []string{"--print", "--verbose", "--include-partial-messages", "--replay-user-messages"} {
		if !hasFlag(args, flag) {
			t.Errorf("missing %s", flag)
		}
	}
	pairs := [][2]string{
		{"--output-format", "stream-json"},
		{"--input-format", "stream-json"},
		{"--permission-mode", "acceptEdits"},
		{"--append-system-prompt", mobileSystemPrompt},
		{"--allowedTools", "AskUserQuestion"},
		{"--allowedTools", "Bash"},
		{"--disallowedTools", "Bash(sudo *)"},
	}
	for _, p := range pairs {
		if !hasPair(args, p[0], p[1]) {
			t.Errorf("missing %s %s", p[0], p[1])
		}
	}

	if !hasPair(args, "--session-id", "abc-123") {
		t.Error("a fresh session must pass --session-id")
	}
	if hasFlag(args, "--resume") {
		t.Error("a fresh session must not pass --resume")
	}
}

func TestBuildWorkerArgs_Resume(t *testing.T) {
	args := buildWorkerArgs("abc-123", true)
	if !hasPair(args, "--resume", "abc-123") {
		t.Error("a resumable session must pass --resume")
	}
	if hasFlag(args, "--session-id") {
		t.Error("--session-id and --resume are mutually exclusive")
	}
}

func TestBuildWorkerArgs_MCPConfig(t *testing.T) {
	cfg := config.Get()
	old := cfg.MCPConfig
	defer func() { cfg.MCPConfig = old }()

	cfg.MCPConfig = ""
	if hasFlag(buildWorkerArgs("s", false), "--mcp-config") {
		t.Error("no --mcp-config without a configured path")
	}

	cfg.MCPConfig = "/etc/bridge/mcp.json"
	if !hasPair(buildWorkerArgs("s", false), "--mcp-config", "/etc/bridge/mcp.json") {
		t.Error("configured MCP path must be passed through")
	}
}
