package folders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
	"github.com/xiaoyuanzhu-com/gueridon/hub"
)

type stubSessions struct {
	infos []bridge.SessionInfo
}

func (s *stubSessions) Infos() []bridge.SessionInfo { return s.infos }

func TestList(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"beta", "alpha", ".hidden"} {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	lastOut := time.Now().Add(-time.Minute)
	sessions := &stubSessions{infos: []bridge.SessionInfo{{
		Folder:       filepath.Join(root, "alpha"),
		SessionID:    "s-alpha",
		Status:       "working",
		LastOutputAt: lastOut,
	}}}

	svc := NewService(root, sessions, hub.New())
	list, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}

	if len(list) != 2 {
		t.Fatalf("expected 2 folders (hidden dirs and files skipped), got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Errorf("list must sort by name, got %s, %s", list[0].Name, list[1].Name)
	}

	alpha := list[0]
	if !alpha.Active || alpha.SessionID != "s-alpha" || alpha.Status != "working" {
		t.Errorf("alpha must carry its session annotation, got %+v", alpha)
	}
	if alpha.LastActive == nil || !alpha.LastActive.Equal(lastOut) {
		t.Errorf("alpha lastActive = %v, want %v", alpha.LastActive, lastOut)
	}

	beta := list[1]
	if beta.Active || beta.SessionID != "" || beta.LastActive != nil {
		t.Errorf("beta has no session and must stay unannotated, got %+v", beta)
	}
}

func TestWatcherBroadcastsOnNewFolder(t *testing.T) {
	root := t.TempDir()
	h := hub.New()
	svc := NewService(root, &stubSessions{}, h)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	c := h.Register("")

	if err := os.Mkdir(filepath.Join(root, "fresh"), 0o755); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-c.Frames():
		if f.Event != "folders" {
			t.Errorf("expected folders frame, got %q", f.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no folders broadcast after mkdir")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	h := hub.New()
	svc := NewService(root, &stubSessions{}, h)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	c := h.Register("")

	for i := 0; i < 5; i++ {
		if err := os.Mkdir(filepath.Join(root, "dir"+string(rune('a'+i))), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	// wait past the debounce window plus slack
	deadline := time.After(2 * time.Second)
	got := 0
	for {
		select {
		case <-c.Frames():
			got++
		case <-deadline:
			if got < 1 || got > 2 {
				t.Errorf("burst of 5 mkdirs should coalesce to 1-2 broadcasts, got %d", got)
			}
			return
		}
	}
}
