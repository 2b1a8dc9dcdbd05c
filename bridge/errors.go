package bridge

import "errors"

var (
	// ErrFolderOutsideRoot is returned when a folder argument does not
	// resolve to a strict descendant of the scan root.
	ErrFolderOutsideRoot = errors.New("folder outside scan root")

	// ErrSessionNotFound is returned for operations against a folder with
	// no live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkerNotRunning is returned when an operation needs a live
	// Worker process and there is none.
	ErrWorkerNotRunning = errors.New("worker not running")

	// ErrEmptyPrompt is returned for prompts with no text and no content.
	ErrEmptyPrompt = errors.New("prompt has no text or content")
)

// SpawnError wraps a Worker spawn failure with the argv that was attempted.
type SpawnError struct {
	Cmd string
	Err error
}

func (e *SpawnError) Error() string {
	return "failed to spawn worker " + e.Cmd + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }
