package bridge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// persistDelay coalesces record writes across spawn and exit storms.
const persistDelay = 500 * time.Millisecond

// ReaperRecord identifies one live Worker so a future bridge instance can
// reap it if this one dies without cleaning up.
type ReaperRecord struct {
	SessionID  string    `json:"sessionId"`
	FolderPath string    `json:"folderPath"`
	PID        int       `json:"pid"`
	SpawnedAt  time.Time `json:"spawnedAt"`
}

// persistDebouncer batches writes of the active-Worker record file.
type persistDebouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	stopping atomic.Bool
	collect  func() []ReaperRecord
}

func newPersistDebouncer(collect func() []ReaperRecord) *persistDebouncer {
	return &persistDebouncer{collect: collect}
}

// Queue schedules a write, pushing back any pending one.
func (p *persistDebouncer) Queue() {
	if p.stopping.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Reset(persistDelay)
		return
	}
	p.timer = time.AfterFunc(persistDelay, p.fire)
}

func (p *persistDebouncer) fire() {
	p.mu.Lock()
	p.timer = nil
	p.mu.Unlock()
	if p.stopping.Load() {
		return
	}
	writeReaperRecords(p.collect())
}

// Flush writes immediately, canceling any pending timer.
func (p *persistDebouncer) Flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	writeReaperRecords(p.collect())
}

// Stop prevents further writes. The record file keeps its last contents so
// the next startup's sweep can still find escaped Workers.
func (p *persistDebouncer) Stop() {
	p.stopping.Store(true)
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}

func writeReaperRecords(records []ReaperRecord) {
	path := config.Get().SessionsFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create session record dir")
		return
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal session records")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		// next startup's sweep just sees the previous contents
		log.Warn().Err(err).Str("path", path).Msg("failed to persist session records")
	}
}
