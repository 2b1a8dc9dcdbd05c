package bridge

import "time"

// Resolution is the outcome of deciding which session id a folder should use.
type Resolution struct {
	SessionID   string `json:"sessionId"`
	Resumable   bool   `json:"resumable"`
	IsReconnect bool   `json:"-"`
}

// handoffStaleAfter discriminates a same-turn clean close (the journal and
// the handoff land within seconds of each other) from a handoff left behind
// by an older conversation that was later resumed and kept working.
const handoffStaleAfter = 60 * time.Second

// ResolveSession runs the session resolution decision tree, in order:
//
//  1. An in-process Session wins: reconnect, id and resumable bit preserved.
//  2. No journal on disk: fresh id, nothing to resume.
//  3. The latest journal's id was deliberately exited: fresh id.
//  4. The Worker handed the latest journal's id off cleanly: fresh id.
//  5. Otherwise: resume the journal's id.
//
// Each input is a lossy signal from an independent filesystem actor. The
// policy invariants: a deliberate close by any mechanism always produces a
// fresh id, a reconnect never changes the id, and a stale close signal for an
// older id never blocks resuming a newer one (callers nil out stale handoffs
// via HandoffIsStale before calling).
func ResolveSession(inProcess *Resolution, journal *JournalRef, handoffID string, exited bool, newID func() string) Resolution {
	if inProcess != nil {
		return Resolution{
			SessionID:   inProcess.SessionID,
			Resumable:   inProcess.Resumable,
			IsReconnect: true,
		}
	}
	if journal == nil {
		return Resolution{SessionID: newID()}
	}
	if exited {
		return Resolution{SessionID: newID()}
	}
	if handoffID != "" && handoffID == journal.SessionID {
		return Resolution{SessionID: newID()}
	}
	return Resolution{SessionID: journal.SessionID, Resumable: true}
}

// HandoffIsStale reports whether the journal kept growing well past the
// handoff write, meaning the handoff describes an earlier conversation and
// must be ignored.
func HandoffIsStale(journalMtime, handoffMtime time.Time) bool {
	return journalMtime.Sub(handoffMtime) > handoffStaleAfter
}
