package bridge

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
	"github.com/xiaoyuanzhu-com/gueridon/hub"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// Notifier delivers a push notification about a folder. Implemented by the
// push service; a nil notifier drops everything.
type Notifier interface {
	Notify(folder, title, body string)
}

// Manager owns the session registry, one Session per folder path.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	hub         *hub.Hub
	notifier    Notifier
	shutdownCtx *ShutdownContext
	persist     *persistDebouncer
}

func NewManager(h *hub.Hub, notifier Notifier, shutdownCtx *ShutdownContext) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		hub:         h,
		notifier:    notifier,
		shutdownCtx: shutdownCtx,
	}
	m.persist = newPersistDebouncer(m.collectRecords)
	return m
}

// Get returns the in-process session for a folder, if any.
func (m *Manager) Get(folder string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[folder]
	return s, ok
}

// ResolveOrCreateSession returns the session a folder should use, creating
// and registering one when none is in process. An explicit requested id that
// conflicts with the in-process session tears the old one down first; "new"
// always does.
func (m *Manager) ResolveOrCreateSession(folder, requested string) (*Session, Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[folder]; ok {
		res := existing.Resolution()
		if requested == "" || requested == res.SessionID {
			res.IsReconnect = true
			return existing, res, nil
		}
		delete(m.sessions, folder)
		existing.Teardown()
		m.persist.Queue()
	}

	var res Resolution
	switch {
	case requested == "new":
		res = Resolution{SessionID: uuid.NewString()}
	case requested != "":
		res = Resolution{SessionID: requested, Resumable: journalExists(folder, requested)}
	default:
		res = resolveFromTree(folder)
	}

	sess := newSession(m, folder, res)
	if res.Resumable {
		m.replayJournal(sess)
		sess.markInterrupted(ClassifyRestart(m.shutdownCtx, folder, time.Now()))
	}
	m.sessions[folder] = sess
	log.Info().
		Str("folder", folder).
		Str("sessionId", res.SessionID).
		Bool("resumable", res.Resumable).
		Msg("session created")
	return sess, res, nil
}

// resolveFromTree runs the on-disk part of session resolution: latest
// journal, handoff record with staleness check, exit markers.
func resolveFromTree(folder string) Resolution {
	dir, err := JournalDir(folder)
	if err != nil {
		return Resolution{SessionID: uuid.NewString()}
	}
	journal, err := LatestJournal(dir)
	if err != nil {
		log.Warn().Err(err).Str("folder", folder).Msg("failed to scan journal dir")
		return Resolution{SessionID: uuid.NewString()}
	}

	handoffID := ""
	if h := ReadHandoff(dir); h != nil && journal != nil {
		if HandoffIsStale(journal.ModTime, h.ModTime) {
			log.Info().
				Str("folder", folder).
				Str("sessionId", h.SessionID).
				Msg("handoff record stale, ignoring")
		} else {
			handoffID = h.SessionID
		}
	}

	exited := journal != nil && HasExitMarker(journal.SessionID)
	return ResolveSession(nil, journal, handoffID, exited, uuid.NewString)
}

func journalExists(folder, sessionID string) bool {
	dir, err := JournalDir(folder)
	if err != nil {
		return false
	}
	_, err = os.Stat(dir + "/" + sessionID + ".jsonl")
	return err == nil
}

// replayJournal primes a fresh session's state from the on-disk journal.
func (m *Manager) replayJournal(s *Session) {
	dir, err := JournalDir(s.Folder)
	if err != nil {
		return
	}
	path := dir + "/" + s.id + ".jsonl"
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("journal unreadable, starting empty")
		return
	}
	defer f.Close()

	records, malformed := ParseJournal(f)
	if malformed > 0 {
		log.Warn().Int("lines", malformed).Str("path", path).Msg("skipped malformed journal lines")
	}
	s.state.ReplayFromJournal(records)
	log.Info().
		Str("folder", s.Folder).
		Str("sessionId", s.id).
		Int("records", len(records)).
		Msg("journal replayed")
}

// expireSession removes a session whose grace period ran out. The pointer
// comparison skips sessions already replaced in the registry.
func (m *Manager) expireSession(s *Session) {
	m.mu.Lock()
	if m.sessions[s.Folder] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.Folder)
	m.mu.Unlock()

	s.Teardown()
	m.persist.Queue()
}

// Exit deliberately closes a folder's session: exit marker first so a
// concurrent resolution cannot resurrect the id, then teardown.
func (m *Manager) Exit(folder string) error {
	m.mu.Lock()
	s, ok := m.sessions[folder]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if err := WriteExitMarker(s.ID()); err != nil {
		log.Warn().Err(err).Str("folder", folder).Msg("failed to write exit marker")
	}
	delete(m.sessions, folder)
	m.mu.Unlock()

	s.Teardown()
	m.persist.Queue()
	log.Info().Str("folder", folder).Str("sessionId", s.ID()).Msg("session exited")
	return nil
}

// Detach routes a hub client's detach to whichever session holds it.
func (m *Manager) Detach(c *hub.Client) {
	folder := c.Folder()
	if folder == "" {
		return
	}
	if s, ok := m.Get(folder); ok {
		s.Detach(c)
	}
}

// notify forwards to the push layer.
func (m *Manager) notify(folder, title, body string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(folder, title, body)
}

// queuePersist schedules a session-record write.
func (m *Manager) queuePersist() {
	m.persist.Queue()
}

func (m *Manager) collectRecords() []ReaperRecord {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	records := make([]ReaperRecord, 0, len(sessions))
	for _, s := range sessions {
		if rec := s.reaperRecord(); rec != nil {
			records = append(records, *rec)
		}
	}
	return records
}

// Infos snapshots every session for GET /status.
func (m *Manager) Infos() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// ActiveTurnFolders lists folders whose Worker is mid-turn right now.
func (m *Manager) ActiveTurnFolders() []string {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var folders []string
	for _, s := range sessions {
		if s.TurnInProgress() {
			folders = append(folders, s.Folder)
		}
	}
	return folders
}

// Shutdown records the shutdown context, freezes the reaper records so the
// next startup can sweep anything that survives the kill, then tears every
// session down.
func (m *Manager) Shutdown(signal string) {
	ctx := &ShutdownContext{
		Signal:            signal,
		Timestamp:         time.Now(),
		ActiveTurnFolders: m.ActiveTurnFolders(),
	}
	if err := WriteShutdownContext(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to write shutdown context")
	}

	m.persist.Flush()
	m.persist.Stop()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Teardown()
	}
	log.Info().Int("sessions", len(sessions)).Str("signal", signal).Msg("all sessions torn down")
}

// SubmitPrompt resolves (or creates) the folder's session and delivers the
// prompt. A prompt alone is enough to bring a folder back to life.
func (m *Manager) SubmitPrompt(folder string, p models.Prompt) (*Session, int, error) {
	s, _, err := m.ResolveOrCreateSession(folder, "")
	if err != nil {
		return nil, 0, err
	}
	pos, err := s.SubmitPrompt(p)
	return s, pos, err
}
