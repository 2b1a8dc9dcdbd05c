package bridge

import (
	"encoding/json"
	"os"
	"syscall"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// reaperStaleAfter: a record this old describes a pid space long since
// recycled; probing it risks signaling an unrelated process.
const reaperStaleAfter = 24 * time.Hour

// ReapOrphans kills Workers left behind by a previous bridge instance. Runs
// once at startup, before any session can spawn, so pids cannot collide with
// fresh Workers.
func ReapOrphans() {
	path := config.Get().SessionsFile()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read session records")
		}
		return
	}

	var records []ReaperRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed session records, discarding")
		os.Remove(path)
		return
	}

	reaped := 0
	stale := 0
	gone := 0
	for _, rec := range records {
		if time.Since(rec.SpawnedAt) > reaperStaleAfter {
			stale++
			continue
		}
		if !pidAlive(rec.PID) {
			gone++
			continue
		}
		pids := append([]int{rec.PID}, descendantPids(rec.PID)...)
		log.Info().
			Str("folder", rec.FolderPath).
			Str("sessionId", rec.SessionID).
			Int("pid", rec.PID).
			Int("processes", len(pids)).
			Msg("reaping orphaned worker")
		for _, pid := range pids {
			syscall.Kill(pid, syscall.SIGINT)
		}
		scheduleHardKill(pids)
		reaped++
	}

	os.Remove(path)
	log.Info().
		Int("records", len(records)).
		Int("reaped", reaped).
		Int("alreadyGone", gone).
		Int("stale", stale).
		Msg("orphan sweep complete")
}

// scheduleHardKill escalates to SIGKILL for any of the pids still alive
// after the polite grace. Detached so it never blocks startup.
func scheduleHardKill(pids []int) {
	time.AfterFunc(killGrace, func() {
		for _, pid := range pids {
			if pidAlive(pid) {
				log.Warn().Int("pid", pid).Msg("orphan ignored SIGINT, sending SIGKILL")
				syscall.Kill(pid, syscall.SIGKILL)
			}
		}
	})
}
