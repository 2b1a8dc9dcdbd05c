package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/hub"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// Session supervises at most one Worker subprocess for one folder. All
// mutable state is confined behind mu; stdin writes take stdinMu separately
// so a slow pipe never blocks event handling. processGen increments on every
// spawn and teardown, and goroutines or timers started against an older
// generation discard themselves on fire.
type Session struct {
	Folder string

	mu             sync.Mutex
	id             string
	resumable      bool
	worker         *workerProcess
	processGen     int
	lastOutput     time.Time
	turnInProgress bool
	turnStartedAt  time.Time
	lastPromptAt   time.Time
	clients        map[*hub.Client]struct{}
	queue          []models.Prompt
	stderrRing     []string
	state          *StateBuilder

	pendingDeltas map[DeltaKey]string
	deltaOrder    []DeltaKey
	flushTimer    *time.Timer
	initTimer     *time.Timer
	graceTimer    *time.Timer

	// guardWasDeferred records that a grace expiry was pushed back once by
	// the recent-prompt gate.
	guardWasDeferred bool

	wasInterrupted bool
	restartKind    RestartKind
	autoResumeSent bool
	askedThisTurn  bool

	// stdinMu serializes writes to the Worker's stdin pipe.
	stdinMu sync.Mutex

	manager *Manager
}

func newSession(m *Manager, folder string, res Resolution) *Session {
	return &Session{
		Folder:    folder,
		id:        res.SessionID,
		resumable: res.Resumable,
		clients:   make(map[*hub.Client]struct{}),
		state:     NewStateBuilder(folder, res.SessionID),
		manager:   m,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Resolution describes the session for POST /session responses.
func (s *Session) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Resolution{SessionID: s.id, Resumable: s.resumable}
}

// ensureWorkerLocked spawns the Worker if none is running. The session id
// and resumability decide the argv; resumability starts from the resolution
// and flips once the Worker has produced output under this id.
func (s *Session) ensureWorkerLocked() error {
	if s.worker != nil {
		return nil
	}
	w, err := spawnWorker(s.Folder, s.id, s.resumable)
	if err != nil {
		return err
	}
	s.worker = w
	s.processGen++
	gen := s.processGen
	s.armInitTimerLocked(gen)
	go s.readStdout(w, gen)
	go s.readStderr(w, gen)
	go s.waitWorker(w, gen)
	s.manager.queuePersist()
	return nil
}

// readStdout pumps Worker stdout line by line into the event handler.
func (s *Session) readStdout(w *workerProcess, gen int) {
	scanner := bufio.NewScanner(w.stdout)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		s.handleLine(scanner.Text(), gen)
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Str("folder", s.Folder).Msg("worker stdout closed")
	}
}

// readStderr keeps a small ring of recent stderr lines for exit diagnostics.
func (s *Session) readStderr(w *workerProcess, gen int) {
	scanner := bufio.NewScanner(w.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.mu.Lock()
		if gen == s.processGen {
			s.stderrRing = append(s.stderrRing, line)
			if len(s.stderrRing) > stderrRingSize {
				s.stderrRing = s.stderrRing[len(s.stderrRing)-stderrRingSize:]
			}
		}
		s.mu.Unlock()
	}
}

// handleLine parses one stdout line and routes it. Conflatable streaming
// deltas accumulate in pendingDeltas until the flush timer fires; everything
// else flushes pending output first so ordering is preserved, then goes
// through the StateBuilder and out to the attached clients.
func (s *Session) handleLine(raw string, gen int) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	var ev models.WorkerEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		log.Debug().Str("folder", s.Folder).Str("line", truncateLine(line, 200)).Msg("non-json worker output")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.processGen {
		return
	}
	s.lastOutput = time.Now()
	// once the Worker has written anything under this id, a journal exists
	// and any respawn must --resume rather than claim the id again
	s.resumable = true

	if IsUserTextEcho(&ev) {
		return
	}

	if key, payload, ok := ConflatableDelta(&ev); ok {
		s.state.HandleEvent(&ev)
		if s.pendingDeltas == nil {
			s.pendingDeltas = make(map[DeltaKey]string)
		}
		if _, seen := s.pendingDeltas[key]; !seen {
			s.deltaOrder = append(s.deltaOrder, key)
		}
		s.pendingDeltas[key] += payload
		s.armFlushTimerLocked(gen)
		return
	}

	s.flushPendingLocked()

	if ev.IsInit() {
		s.cancelInitTimerLocked()
	}

	deltas := s.state.HandleEvent(&ev)
	for i := range deltas {
		s.broadcastDeltaLocked(deltas[i])
		if deltas[i].Type == models.DeltaTypeAskUser {
			s.notifyAskLocked()
		}
	}

	switch {
	case ev.Type == models.EventResult:
		s.onTurnCompleteLocked()
	case ev.Type == models.EventAssistant && ev.IsApiErrorMessage && s.turnInProgress:
		// a terminal API error ends the turn without a result event
		s.onTurnCompleteLocked()
	}
}

// notifyAskLocked pushes a notification for a pending question when nobody
// is watching.
func (s *Session) notifyAskLocked() {
	if len(s.clients) > 0 || s.askedThisTurn {
		return
	}
	s.askedThisTurn = true
	s.manager.notify(s.Folder, "Question from the agent", "The agent is waiting for your answer.")
}

// broadcastDeltaLocked sends one delta frame to every attached client and
// records it in the hub's recent-event ring.
func (s *Session) broadcastDeltaLocked(d models.Delta) {
	d.Folder = s.Folder
	data, err := json.Marshal(&d)
	if err != nil {
		log.Error().Err(err).Str("folder", s.Folder).Msg("failed to marshal delta")
		return
	}
	f := hub.Frame{Event: "delta", Data: data, Structural: d.Structural()}
	for c := range s.clients {
		c.Send(f)
	}
	if d.Structural() {
		s.manager.hub.Record("delta:"+d.Type, s.Folder)
	}
}

// broadcastStateLocked sends a full snapshot frame to every attached client.
func (s *Session) broadcastStateLocked(metrics *models.TurnMetrics) {
	snap := s.state.Snapshot()
	snap.LastTurn = metrics
	data, err := json.Marshal(&snap)
	if err != nil {
		log.Error().Err(err).Str("folder", s.Folder).Msg("failed to marshal snapshot")
		return
	}
	f := hub.Frame{Event: "state", Data: data, Structural: true}
	for c := range s.clients {
		c.Send(f)
	}
	s.manager.hub.Record("state", s.Folder)
}

// sendStateLocked sends the current snapshot to a single client.
func (s *Session) sendStateLocked(c *hub.Client) {
	snap := s.state.Snapshot()
	data, err := json.Marshal(&snap)
	if err != nil {
		return
	}
	c.Send(hub.Frame{Event: "state", Data: data, Structural: true})
}

// flushPendingLocked drains accumulated streaming deltas as append frames,
// in first-seen block order.
func (s *Session) flushPendingLocked() {
	s.cancelFlushTimerLocked()
	if len(s.deltaOrder) == 0 {
		return
	}
	for _, key := range s.deltaOrder {
		d := models.Delta{
			Type:   FlushDeltaType(key.Kind),
			Index:  models.Idx(key.Index),
			Text:   s.pendingDeltas[key],
			Append: true,
		}
		s.broadcastDeltaLocked(d)
	}
	s.pendingDeltas = make(map[DeltaKey]string)
	s.deltaOrder = s.deltaOrder[:0]
}

func (s *Session) armFlushTimerLocked(gen int) {
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(flushInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.processGen {
			return
		}
		s.flushTimer = nil
		s.flushPendingLocked()
	})
}

func (s *Session) cancelFlushTimerLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// armInitTimerLocked kills a Worker that never produces its init event.
func (s *Session) armInitTimerLocked(gen int) {
	s.cancelInitTimerLocked()
	s.initTimer = time.AfterFunc(initTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.processGen || s.worker == nil {
			return
		}
		s.initTimer = nil
		log.Error().Str("folder", s.Folder).Int("pid", s.worker.pid).Msg("worker init timeout")
		s.worker.killWithEscalation()
		s.state.SetStatus(models.StatusError)
		s.broadcastDeltaLocked(models.Delta{
			Type:   models.DeltaTypeStatus,
			Status: models.StatusError,
			Error:  "worker did not initialize in time",
		})
	})
}

func (s *Session) cancelInitTimerLocked() {
	if s.initTimer != nil {
		s.initTimer.Stop()
		s.initTimer = nil
	}
}

// maybeStartGraceTimerLocked arms the idle shutdown timer. It only arms when
// no client is attached, a Worker is alive, and no turn is running. A prompt
// delivered recently suppresses it: the user stepped away mid-thought and
// the Worker should survive until they return.
func (s *Session) maybeStartGraceTimerLocked() {
	if s.graceTimer != nil {
		return
	}
	if len(s.clients) != 0 || s.worker == nil || s.turnInProgress {
		return
	}
	if !s.lastPromptAt.IsZero() && time.Since(s.lastPromptAt) <= promptRecency {
		s.guardWasDeferred = true
		return
	}
	s.armGraceTimerLocked()
}

func (s *Session) armGraceTimerLocked() {
	grace := time.Duration(config.Get().GraceMs) * time.Millisecond
	gen := s.processGen
	s.graceTimer = time.AfterFunc(grace, func() {
		s.mu.Lock()
		if s.graceTimer == nil || gen != s.processGen {
			s.mu.Unlock()
			return
		}
		s.graceTimer = nil
		if len(s.clients) != 0 || s.worker == nil || s.turnInProgress {
			s.mu.Unlock()
			return
		}
		if !s.lastPromptAt.IsZero() && time.Since(s.lastPromptAt) <= promptRecency {
			// a prompt landed between arm and fire; push the expiry back once
			if !s.guardWasDeferred {
				s.guardWasDeferred = true
				s.armGraceTimerLocked()
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		log.Info().Str("folder", s.Folder).Msg("grace period expired, shutting session down")
		s.manager.expireSession(s)
	})
}

func (s *Session) cancelGraceTimerLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.guardWasDeferred = false
}

// SubmitPrompt delivers a prompt, or queues it when a turn is already
// running. Returns the queue position, 0 meaning delivered immediately.
func (s *Session) SubmitPrompt(p models.Prompt) (int, error) {
	if p.Empty() {
		return 0, ErrEmptyPrompt
	}
	s.mu.Lock()
	if s.turnInProgress {
		s.queue = append(s.queue, p)
		pos := len(s.queue)
		if p.Text != "" {
			s.state.AddUserText(p.Text)
		}
		s.broadcastStateLocked(nil)
		nudge := config.Get().QueueNudge && pos == 1
		w := s.worker
		s.mu.Unlock()
		if nudge && w != nil {
			s.writeNudge(w)
		}
		return pos, nil
	}
	s.mu.Unlock()
	return 0, s.deliverPrompt(p, false)
}

// deliverPrompt writes one prompt line to Worker stdin, spawning the Worker
// on demand. skipStateMessage is set for coalesced queue drains whose texts
// were already added when queued.
func (s *Session) deliverPrompt(p models.Prompt, skipStateMessage bool) error {
	s.mu.Lock()
	if err := s.ensureWorkerLocked(); err != nil {
		s.state.SetStatus(models.StatusError)
		s.broadcastDeltaLocked(models.Delta{
			Type:   models.DeltaTypeStatus,
			Status: models.StatusError,
			Error:  err.Error(),
		})
		s.turnInProgress = false
		s.mu.Unlock()
		log.Error().Err(err).Str("folder", s.Folder).Msg("failed to spawn worker")
		return err
	}
	s.cancelGraceTimerLocked()
	s.lastPromptAt = time.Now()
	if !skipStateMessage && p.Text != "" {
		s.state.AddUserText(p.Text)
	}
	w := s.worker
	s.mu.Unlock()

	line, err := json.Marshal(models.NewUserInput(p))
	if err != nil {
		return err
	}
	werr := s.writeStdin(w, line)

	s.mu.Lock()
	defer s.mu.Unlock()
	if werr != nil {
		log.Error().Err(werr).Str("folder", s.Folder).Msg("failed to write prompt to worker")
		s.turnInProgress = false
		s.broadcastDeltaLocked(models.Delta{
			Type:   models.DeltaTypeStatus,
			Status: models.StatusError,
			Error:  "failed to deliver prompt to worker",
		})
		return fmt.Errorf("worker stdin: %w", werr)
	}
	s.turnInProgress = true
	s.turnStartedAt = time.Now()
	s.askedThisTurn = false
	s.state.SetStatus(models.StatusWorking)
	s.broadcastDeltaLocked(models.Delta{Type: models.DeltaTypeStatus, Status: models.StatusWorking})
	return nil
}

func (s *Session) writeStdin(w *workerProcess, line []byte) error {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err := w.stdin.Write(append(line, '\n'))
	return err
}

// writeNudge sends the queue heads-up the Worker may pick up during a tool
// pause. Best effort: if the Worker ignores it, the coalesced delivery
// replaces it as the next turn.
func (s *Session) writeNudge(w *workerProcess) {
	p := models.Prompt{Text: SyntheticPrefix + " The user queued further instructions. Finish the current step, then check for them."}
	line, err := json.Marshal(models.NewUserInput(p))
	if err != nil {
		return
	}
	if err := s.writeStdin(w, line); err != nil {
		log.Debug().Err(err).Str("folder", s.Folder).Msg("queue nudge write failed")
	}
}

// onTurnCompleteLocked runs after a result event or a terminal API error:
// flush, metrics, snapshot, slash-command recovery, queue drain, grace.
func (s *Session) onTurnCompleteLocked() {
	s.flushPendingLocked()

	var durationMs int64
	if !s.turnStartedAt.IsZero() {
		durationMs = time.Since(s.turnStartedAt).Milliseconds()
	}
	s.turnInProgress = false
	s.turnStartedAt = time.Time{}

	if !s.state.HadContentThisTurn() {
		// local slash commands stream nothing; their output lands only in
		// the journal
		go s.recoverLocalCommand(s.processGen)
	}

	metrics := s.state.TurnMetrics(durationMs)
	s.broadcastStateLocked(&metrics)

	if len(s.clients) == 0 && !s.askedThisTurn {
		s.manager.notify(s.Folder, "Turn complete", "The agent finished working.")
	}

	if len(s.queue) > 0 {
		s.drainQueueLocked()
		return
	}
	s.maybeStartGraceTimerLocked()
}

// drainQueueLocked coalesces the queue into one prompt and delivers it.
// turnInProgress is held true across the handoff so a racing SubmitPrompt
// queues behind the drain instead of interleaving.
func (s *Session) drainQueueLocked() {
	batch := s.queue
	s.queue = nil
	prompt := CoalescePrompts(batch)
	s.turnInProgress = true
	go func() {
		if err := s.deliverPrompt(prompt, true); err != nil {
			s.mu.Lock()
			s.turnInProgress = false
			s.maybeStartGraceTimerLocked()
			s.mu.Unlock()
		}
	}()
}

// recoverLocalCommand tails the journal for wrapped local-command output and
// injects it as a synthetic assistant message.
func (s *Session) recoverLocalCommand(gen int) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	dir, err := JournalDir(s.Folder)
	if err != nil {
		return
	}
	body, ok := RecoverLocalCommandOutput(dir + "/" + id + ".jsonl")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.processGen {
		return
	}
	s.state.AddLocalCommandOutput(body)
	s.broadcastStateLocked(nil)
}

// waitWorker reaps the subprocess and classifies the exit.
func (s *Session) waitWorker(w *workerProcess, gen int) {
	err := w.cmd.Wait()
	code, sig := exitStatus(w.cmd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.processGen {
		return
	}
	s.flushPendingLocked()
	s.cancelInitTimerLocked()
	s.cancelGraceTimerLocked()
	s.worker = nil
	uptime := time.Since(w.spawnedAt)
	dropped := len(s.queue)
	s.queue = nil

	logEvent := log.Info()
	if code != 0 {
		logEvent = log.Warn()
	}
	logEvent.
		Str("folder", s.Folder).
		Int("pid", w.pid).
		Int("code", code).
		Str("signal", sig).
		Dur("uptime", uptime).
		Int("droppedQueue", dropped).
		Err(err).
		Msg("worker exited")

	switch {
	case s.turnInProgress:
		subtype := "aborted"
		if sig != "" {
			subtype = sig
		}
		deltas := s.state.HandleEvent(&models.WorkerEvent{
			Type:    models.EventResult,
			Subtype: subtype,
			IsError: true,
		})
		for i := range deltas {
			s.broadcastDeltaLocked(deltas[i])
		}
		s.turnInProgress = false
		s.turnStartedAt = time.Time{}
		s.broadcastStateLocked(nil)
	case code != 0 && sig == "" && uptime < earlyExitWindow:
		detail := strings.Join(s.stderrRing, "\n")
		s.state.SetStatus(models.StatusError)
		s.broadcastDeltaLocked(models.Delta{
			Type:   models.DeltaTypeStatus,
			Status: models.StatusError,
			Error:  fmt.Sprintf("worker exited with code %d shortly after start: %s", code, detail),
		})
	default:
		s.state.SetStatus(models.StatusIdle)
		s.broadcastStateLocked(nil)
	}
	s.stderrRing = nil
	s.manager.queuePersist()
}

// Attach binds a hub client to this session, replays current state to it,
// and fires the one-shot auto-resume prompt for interrupted sessions.
func (s *Session) Attach(c *hub.Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.cancelGraceTimerLocked()
	c.BindFolder(s.Folder)
	s.sendStateLocked(c)

	resume := s.wasInterrupted && !s.autoResumeSent
	var kind RestartKind
	if resume {
		s.autoResumeSent = true
		kind = s.restartKind
	}
	s.mu.Unlock()

	if resume {
		log.Info().Str("folder", s.Folder).Int("kind", int(kind)).Msg("sending auto-resume prompt")
		go func() {
			if _, err := s.SubmitPrompt(models.Prompt{Text: AutoResumeText(kind)}); err != nil {
				log.Warn().Err(err).Str("folder", s.Folder).Msg("auto-resume prompt failed")
			}
		}()
	}
}

// Detach unbinds a client. The last client leaving may start the grace
// timer.
func (s *Session) Detach(c *hub.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.BindFolder("")
	s.maybeStartGraceTimerLocked()
}

// Abort kills the Worker with escalation. The session survives; waitWorker
// synthesizes the turn end and state frame.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return ErrWorkerNotRunning
	}
	log.Info().Str("folder", s.Folder).Int("pid", s.worker.pid).Msg("aborting worker")
	s.worker.killWithEscalation()
	return nil
}

// Teardown kills the Worker, cancels all timers, broadcasts a terminal
// snapshot, and releases the clients back to the lobby. The caller removes
// the session from the registry.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.processGen++
	s.cancelFlushTimerLocked()
	s.cancelInitTimerLocked()
	s.cancelGraceTimerLocked()
	w := s.worker
	s.worker = nil
	s.queue = nil
	s.turnInProgress = false
	s.state.SetStatus(models.StatusIdle)
	s.broadcastStateLocked(nil)
	for c := range s.clients {
		c.BindFolder("")
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if w != nil {
		w.killWithEscalation()
	}
}

// markInterrupted flags the session for the one-shot auto-resume prompt.
func (s *Session) markInterrupted(kind RestartKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wasInterrupted = true
	s.restartKind = kind
}

// TurnInProgress reports whether a turn is currently running.
func (s *Session) TurnInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnInProgress
}

// reaperRecord returns the persisted Worker record, or nil when no Worker
// is running.
func (s *Session) reaperRecord() *ReaperRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return nil
	}
	return &ReaperRecord{
		SessionID:  s.id,
		FolderPath: s.Folder,
		PID:        s.worker.pid,
		SpawnedAt:  s.worker.spawnedAt,
	}
}

// SessionInfo is the diagnostic view served by GET /status.
type SessionInfo struct {
	Folder         string    `json:"folder"`
	SessionID      string    `json:"sessionId"`
	Resumable      bool      `json:"resumable"`
	WorkerAlive    bool      `json:"workerAlive"`
	PID            int       `json:"pid,omitempty"`
	Status         string    `json:"status"`
	TurnInProgress bool      `json:"turnInProgress"`
	Clients        int       `json:"clients"`
	QueueLength    int       `json:"queueLength"`
	GraceArmed     bool      `json:"graceArmed"`
	LastOutputAt   time.Time `json:"lastOutputAt,omitempty"`
	LastPromptAt   time.Time `json:"lastPromptAt,omitempty"`
	SpawnedAt      time.Time `json:"spawnedAt,omitempty"`
}

// Info snapshots the session for diagnostics.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		Folder:         s.Folder,
		SessionID:      s.id,
		Resumable:      s.resumable,
		WorkerAlive:    s.worker != nil,
		Status:         s.state.Status(),
		TurnInProgress: s.turnInProgress,
		Clients:        len(s.clients),
		QueueLength:    len(s.queue),
		GraceArmed:     s.graceTimer != nil,
		LastOutputAt:   s.lastOutput,
		LastPromptAt:   s.lastPromptAt,
	}
	if s.worker != nil {
		info.PID = s.worker.pid
		info.SpawnedAt = s.worker.spawnedAt
	}
	return info
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
