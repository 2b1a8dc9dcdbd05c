package bridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

func writeJournal(t *testing.T, home, folder, sessionID, content string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(home, ".claude", "projects", sanitizeFolderPath(folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func writeHandoff(t *testing.T, dir, sessionID string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, "handoff.json")
	if err := os.WriteFile(path, []byte(`{"sessionId":"`+sessionID+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolveOrCreateSession_Reconnect(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	m := testManager(t)

	s1, res1, err := m.ResolveOrCreateSession("/p/app", "")
	if err != nil {
		t.Fatal(err)
	}
	if res1.IsReconnect || res1.SessionID == "" || res1.Resumable {
		t.Fatalf("first resolution should be fresh, got %+v", res1)
	}

	s2, res2, err := m.ResolveOrCreateSession("/p/app", "")
	if err != nil {
		t.Fatal(err)
	}
	if s2 != s1 {
		t.Error("empty requested id must reconnect to the in-process session")
	}
	if !res2.IsReconnect || res2.SessionID != res1.SessionID {
		t.Errorf("reconnect resolution = %+v, want the original id", res2)
	}

	s3, res3, err := m.ResolveOrCreateSession("/p/app", res1.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if s3 != s1 || !res3.IsReconnect {
		t.Error("matching requested id must also reconnect")
	}
}

func TestResolveOrCreateSession_ConflictReplaces(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	m := testManager(t)

	s1, res1, err := m.ResolveOrCreateSession("/p/app", "")
	if err != nil {
		t.Fatal(err)
	}

	s2, res2, err := m.ResolveOrCreateSession("/p/app", "requested-other")
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s1 {
		t.Fatal("a conflicting requested id must replace the session")
	}
	if res2.SessionID != "requested-other" || res2.IsReconnect {
		t.Errorf("resolution = %+v, want the requested id fresh", res2)
	}
	if res2.Resumable {
		t.Error("an id without a journal cannot be resumable")
	}

	reg, ok := m.Get("/p/app")
	if !ok || reg != s2 {
		t.Error("registry must hold only the replacement session")
	}
	if res1.SessionID == res2.SessionID {
		t.Error("replacement must carry a different id")
	}
}

func TestResolveOrCreateSession_NewKeyword(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	m := testManager(t)

	_, res1, err := m.ResolveOrCreateSession("/p/app", "")
	if err != nil {
		t.Fatal(err)
	}
	_, res2, err := m.ResolveOrCreateSession("/p/app", "new")
	if err != nil {
		t.Fatal(err)
	}
	if res2.SessionID == res1.SessionID {
		t.Error(`"new" must mint a fresh id`)
	}
	if res2.Resumable || res2.IsReconnect {
		t.Errorf(`"new" resolution = %+v, want fresh`, res2)
	}
}

func TestResolveOrCreateSession_ExplicitIDReplaysJournal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeJournal(t, home, "/p/app", "jrn-replay-1", multiToolJournal, time.Time{})

	m := testManager(t)
	s, res, err := m.ResolveOrCreateSession("/p/app", "jrn-replay-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resumable {
		t.Fatal("an id with a journal on disk must be resumable")
	}
	if res.SessionID != "jrn-replay-1" {
		t.Errorf("session id = %q", res.SessionID)
	}

	snap := s.state.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("replay must prime the conversation, got %d messages", len(snap.Messages))
	}
	if snap.Messages[0].Role != "user" || snap.Messages[1].Role != "assistant" {
		t.Errorf("unexpected replayed roles %+v", snap.Messages)
	}
}

func TestResolveFromTree(t *testing.T) {
	folder := "/projects/demo"

	t.Run("no journal starts fresh", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		res := resolveFromTree(folder)
		if res.SessionID == "" || res.Resumable {
			t.Errorf("resolution = %+v, want a fresh id", res)
		}
	})

	t.Run("latest journal resumes", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		now := time.Now()
		writeJournal(t, home, folder, "jrn-old-1", multiToolJournal, now.Add(-time.Hour))
		writeJournal(t, home, folder, "jrn-new-1", multiToolJournal, now)

		res := resolveFromTree(folder)
		if res.SessionID != "jrn-new-1" || !res.Resumable {
			t.Errorf("resolution = %+v, want to resume the newest journal", res)
		}
	})

	t.Run("exit marker starts fresh", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		writeJournal(t, home, folder, "jrn-exited-1", multiToolJournal, time.Time{})
		if err := WriteExitMarker("jrn-exited-1"); err != nil {
			t.Fatal(err)
		}

		res := resolveFromTree(folder)
		if res.SessionID == "jrn-exited-1" || res.Resumable {
			t.Errorf("resolution = %+v, want a fresh id past the exited journal", res)
		}
	})

	t.Run("clean handoff starts fresh", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		now := time.Now()
		dir := writeJournal(t, home, folder, "jrn-handed-1", multiToolJournal, now)
		writeHandoff(t, dir, "jrn-handed-1", now)

		res := resolveFromTree(folder)
		if res.SessionID == "jrn-handed-1" || res.Resumable {
			t.Errorf("resolution = %+v, want fresh after a clean close", res)
		}
	})

	t.Run("stale handoff still resumes", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		now := time.Now()
		// the journal kept growing long past the handoff write
		dir := writeJournal(t, home, folder, "jrn-stale-1", multiToolJournal, now)
		writeHandoff(t, dir, "jrn-stale-1", now.Add(-2*time.Minute))

		res := resolveFromTree(folder)
		if res.SessionID != "jrn-stale-1" || !res.Resumable {
			t.Errorf("resolution = %+v, want to resume past the stale handoff", res)
		}
	})
}

func TestManagerExit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	m := testManager(t)

	_, res, err := m.ResolveOrCreateSession("/p/app", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Exit("/p/app"); err != nil {
		t.Fatalf("Exit = %v", err)
	}
	if !HasExitMarker(res.SessionID) {
		t.Error("exit must record a marker for the session id")
	}
	if _, ok := m.Get("/p/app"); ok {
		t.Error("exited session must leave the registry")
	}

	if err := m.Exit("/p/app"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Exit = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerShutdown(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	m := testManager(t)

	_, _, err := m.ResolveOrCreateSession("/p/idle", "")
	if err != nil {
		t.Fatal(err)
	}
	busy, _, err := m.ResolveOrCreateSession("/p/busy", "")
	if err != nil {
		t.Fatal(err)
	}
	busy.mu.Lock()
	busy.turnInProgress = true
	busy.mu.Unlock()

	m.Shutdown("SIGTERM")

	if _, ok := m.Get("/p/idle"); ok {
		t.Error("shutdown must empty the registry")
	}
	if _, ok := m.Get("/p/busy"); ok {
		t.Error("shutdown must empty the registry")
	}

	ctx := LoadShutdownContext()
	if ctx == nil {
		t.Fatal("shutdown must leave a context for the next startup")
	}
	if ctx.Signal != "SIGTERM" {
		t.Errorf("signal = %q", ctx.Signal)
	}
	if len(ctx.ActiveTurnFolders) != 1 || ctx.ActiveTurnFolders[0] != "/p/busy" {
		t.Errorf("active turn folders = %v, want the mid-turn folder only", ctx.ActiveTurnFolders)
	}

	if LoadShutdownContext() != nil {
		t.Error("the shutdown context is consumed exactly once")
	}
}

func TestManagerSubmitPromptQueues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	m := testManager(t)

	s, _, err := m.ResolveOrCreateSession("/p/app", "")
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.turnInProgress = true
	s.mu.Unlock()

	got, pos, err := m.SubmitPrompt("/p/app", models.Prompt{Text: "while busy"})
	if err != nil {
		t.Fatalf("SubmitPrompt = %v", err)
	}
	if got != s {
		t.Error("prompt must land on the existing session")
	}
	if pos != 1 {
		t.Errorf("queue position = %d, want 1", pos)
	}
}
