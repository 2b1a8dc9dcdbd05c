package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
)

// ValidateFolderPath reports whether candidate resolves to a strict
// descendant of root. The root itself is rejected, and the separator
// requirement rejects prefix cousins like "/root-evil/x" for root "/root".
func ValidateFolderPath(candidate, root string) bool {
	cand := filepath.Clean(candidate)
	base := filepath.Clean(root)
	if cand == base {
		return false
	}
	return strings.HasPrefix(cand, base+string(filepath.Separator))
}

// ResolveFolder turns a :folder route parameter into a validated absolute
// path: a bare name resolves under the scan root, an absolute path must
// already be a strict descendant of it.
func ResolveFolder(arg, root string) (string, error) {
	if arg == "" {
		return "", ErrFolderOutsideRoot
	}
	var candidate string
	if filepath.IsAbs(arg) {
		candidate = arg
	} else {
		if strings.ContainsRune(arg, filepath.Separator) || strings.Contains(arg, "..") {
			return "", ErrFolderOutsideRoot
		}
		candidate = filepath.Join(root, arg)
	}
	if !ValidateFolderPath(candidate, root) {
		return "", ErrFolderOutsideRoot
	}
	return filepath.Clean(candidate), nil
}

// sanitizeFolderPath converts a folder path to the Worker's journal
// directory name, e.g. "/Users/foo/projects/bar" -> "-Users-foo-projects-bar".
func sanitizeFolderPath(path string) string {
	sanitized := strings.ReplaceAll(path, "/", "-")
	if strings.HasPrefix(sanitized, "-") {
		sanitized = sanitized[1:]
	}
	return "-" + sanitized
}

// JournalDir returns the Worker's journal directory for a folder. The layout
// is owned by the Worker; the bridge only derives the path.
func JournalDir(folder string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude", "projects", sanitizeFolderPath(folder)), nil
}

// JournalRef identifies the most recent prior session journal on disk.
type JournalRef struct {
	SessionID string
	Path      string
	ModTime   time.Time
}

// LatestJournal returns the most recently modified session journal in dir,
// or nil if the directory or any journal does not exist.
func LatestJournal(dir string) (*JournalRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var latest *JournalRef
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == nil || info.ModTime().After(latest.ModTime) {
			latest = &JournalRef{
				SessionID: strings.TrimSuffix(entry.Name(), ".jsonl"),
				Path:      filepath.Join(dir, entry.Name()),
				ModTime:   info.ModTime(),
			}
		}
	}
	return latest, nil
}

// Handoff is the clean-close record the Worker leaves in its journal
// directory when a conversation ends deliberately.
type Handoff struct {
	SessionID string
	ModTime   time.Time
}

// ReadHandoff reads the handoff record for a journal directory. Missing or
// malformed files resolve to nil; a handoff is advisory, never an error.
func ReadHandoff(dir string) *Handoff {
	path := filepath.Join(dir, "handoff.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return &Handoff{SessionID: payload.SessionID, ModTime: info.ModTime()}
}

// WriteExitMarker records a deliberate /exit for a session id so the next
// resolution for its folder starts fresh.
func WriteExitMarker(sessionID string) error {
	dir := config.Get().ExitMarkersDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create exit markers directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(filepath.Join(dir, sessionID), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("failed to write exit marker: %w", err)
	}
	return nil
}

// HasExitMarker reports whether a deliberate /exit was recorded for the id.
func HasExitMarker(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(config.Get().ExitMarkersDir(), sessionID))
	return err == nil
}
