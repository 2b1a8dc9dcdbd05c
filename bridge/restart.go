package bridge

import "time"

// RestartKind classifies how the previous bridge instance went away.
type RestartKind int

const (
	// RestartCrash means no graceful-shutdown record exists (or it is too
	// old to describe this restart).
	RestartCrash RestartKind = iota
	// RestartSelfCaused means the previous shutdown killed this folder's
	// Worker mid-turn.
	RestartSelfCaused
	// RestartExternal means something outside the bridge restarted it.
	RestartExternal
)

// shutdownContextMaxAge: a shutdown record older than this describes some
// long-past shutdown, not the restart being recovered from.
const shutdownContextMaxAge = 24 * time.Hour

// ShutdownContext records a graceful shutdown so the next startup can
// classify the restart. Written once at shutdown, consumed exactly once at
// startup, then deleted.
type ShutdownContext struct {
	Signal            string    `json:"signal"`
	Timestamp         time.Time `json:"timestamp"`
	ActiveTurnFolders []string  `json:"activeTurnFolders"`
}

// ClassifyRestart decides how the previous instance died with respect to one
// folder. No context (or a stale one) is a crash; a folder whose turn the
// shutdown interrupted is self-caused; anything else was external.
func ClassifyRestart(ctx *ShutdownContext, folder string, now time.Time) RestartKind {
	if ctx == nil {
		return RestartCrash
	}
	if now.Sub(ctx.Timestamp) > shutdownContextMaxAge {
		return RestartCrash
	}
	for _, f := range ctx.ActiveTurnFolders {
		if f == folder {
			return RestartSelfCaused
		}
	}
	return RestartExternal
}

// SyntheticPrefix marks bridge-injected prompts so the state builder and the
// UI can distinguish them from human input.
const SyntheticPrefix = "[guéridon:system]"

// AutoResumeText returns the prompt text delivered to a resumed Worker after
// a restart of the given kind.
func AutoResumeText(kind RestartKind) string {
	switch kind {
	case RestartSelfCaused:
		return SyntheticPrefix + " The bridge shut down mid-turn and likely caused this interruption. Review your last steps and continue."
	case RestartExternal:
		return SyntheticPrefix + " The bridge was restarted externally. Continue where you left off."
	default:
		return SyntheticPrefix + " The bridge crashed and recovered. Continue where you left off."
	}
}
