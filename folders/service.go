package folders

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
	"github.com/xiaoyuanzhu-com/gueridon/hub"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// debounceDelay coalesces bursts of scan-root changes (git clones, bulk
// moves) into one folders broadcast.
const debounceDelay = 150 * time.Millisecond

// Info is one folder in the lobby list, annotated with its in-process
// session when one exists.
type Info struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Active     bool       `json:"active"`
	SessionID  string     `json:"sessionId,omitempty"`
	Status     string     `json:"status,omitempty"`
	LastActive *time.Time `json:"lastActive,omitempty"`
}

// SessionStates supplies the in-process session view used for annotation.
// Implemented by the session manager.
type SessionStates interface {
	Infos() []bridge.SessionInfo
}

// Service lists the scan root's folders and pushes refreshed lists to
// connected clients when the root changes.
type Service struct {
	root     string
	sessions SessionStates
	hub      *hub.Hub

	watcher  *fsnotify.Watcher
	stopChan chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func NewService(root string, sessions SessionStates, h *hub.Hub) *Service {
	return &Service{
		root:     root,
		sessions: sessions,
		hub:      h,
		stopChan: make(chan struct{}),
	}
}

// List scans the root's immediate subdirectories. Hidden directories are
// skipped; the result is sorted by name.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	byFolder := make(map[string]bridge.SessionInfo)
	if s.sessions != nil {
		for _, info := range s.sessions.Infos() {
			byFolder[info.Folder] = info
		}
	}

	out := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info := Info{
			Name: entry.Name(),
			Path: s.root + string(os.PathSeparator) + entry.Name(),
		}
		if sess, ok := byFolder[info.Path]; ok {
			info.Active = true
			info.SessionID = sess.SessionID
			info.Status = sess.Status
			if t := lastActive(sess); !t.IsZero() {
				info.LastActive = &t
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func lastActive(info bridge.SessionInfo) time.Time {
	t := info.LastOutputAt
	if info.LastPromptAt.After(t) {
		t = info.LastPromptAt
	}
	return t
}

// Start watches the scan root for added or removed folders.
func (s *Service) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.root); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	go s.eventLoop()
	log.Info().Str("root", s.root).Msg("folder watcher started")
	return nil
}

// Stop stops the watcher and cancels any pending broadcast.
func (s *Service) Stop() {
	close(s.stopChan)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *Service) eventLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// only structure changes alter the list
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.queueBroadcast()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("folder watcher error")
		case <-s.stopChan:
			return
		}
	}
}

// queueBroadcast debounces refreshes so a burst of changes produces one
// broadcast.
func (s *Service) queueBroadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(debounceDelay)
		return
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		s.Broadcast()
	})
}

// Broadcast pushes the current folder list to every connected client.
func (s *Service) Broadcast() {
	list, err := s.List()
	if err != nil {
		log.Warn().Err(err).Str("root", s.root).Msg("failed to scan folders")
		return
	}
	s.hub.BroadcastFolders(list)
}
