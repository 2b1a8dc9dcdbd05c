package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
)

// AbortWorker handles POST /abort/:folder
//
// Kills the Worker with escalation. The session survives; the exit path
// synthesizes the aborted turn end.
func (h *Handlers) AbortWorker(c *gin.Context) {
	folder, ok := h.resolveFolderParam(c)
	if !ok {
		return
	}

	sess, found := h.server.Manager().Get(folder)
	if !found {
		RespondNotFound(c, "no session for folder")
		return
	}
	if err := sess.Abort(); err != nil {
		if errors.Is(err, bridge.ErrWorkerNotRunning) {
			RespondConflict(c, "worker not running")
			return
		}
		RespondInternalError(c, "failed to abort worker")
		return
	}
	c.JSON(http.StatusOK, gin.H{"aborted": true})
}

// ExitSession handles POST /exit/:folder
//
// Writes the exit marker, kills the Worker, and removes the session. The
// next resolution for this folder starts fresh.
func (h *Handlers) ExitSession(c *gin.Context) {
	folder, ok := h.resolveFolderParam(c)
	if !ok {
		return
	}

	if err := h.server.Manager().Exit(folder); err != nil {
		if errors.Is(err, bridge.ErrSessionNotFound) {
			RespondNotFound(c, "no session for folder")
			return
		}
		RespondInternalError(c, "failed to exit session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"exited": true})
}
