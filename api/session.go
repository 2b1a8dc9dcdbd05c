package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/hub"
)

type connectRequest struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
}

// ConnectSession handles POST /session/:folder
//
// Omitting sessionId resolves the latest prior session from disk; "new"
// forces a fresh one; a concrete id resumes that id, tearing down a
// different in-process session first.
func (h *Handlers) ConnectSession(c *gin.Context) {
	folder, ok := h.resolveFolderParam(c)
	if !ok {
		return
	}

	var req connectRequest
	if c.Request.ContentLength != 0 {
		if !h.bindJSON(c, &req) {
			return
		}
	}
	clientID := req.ClientID
	if q := c.Query("clientId"); q != "" {
		clientID = q
	}

	// Look the client up before touching the registry so a bad id cannot
	// tear down a live session.
	var client *hub.Client
	if clientID != "" {
		var found bool
		client, found = h.server.Hub().Get(clientID)
		if !found {
			h.server.Hub().Record("request:rejected", folder)
			RespondBadRequest(c, "unknown clientId")
			return
		}
	}

	sess, res, err := h.server.Manager().ResolveOrCreateSession(folder, req.SessionID)
	if err != nil {
		RespondInternalError(c, "failed to resolve session")
		return
	}
	if client != nil {
		sess.Attach(client)
	}

	c.JSON(http.StatusOK, gin.H{
		"folder":    folder,
		"sessionId": res.SessionID,
		"resumable": res.Resumable,
	})
}

// resolveFolderParam resolves the :folder route parameter, a basename under
// the scan root or an absolute strict descendant of it.
func (h *Handlers) resolveFolderParam(c *gin.Context) (string, bool) {
	folder, err := bridge.ResolveFolder(c.Param("folder"), config.Get().ScanRoot)
	if err != nil {
		h.server.Hub().Record("request:rejected", "")
		RespondBadRequest(c, "invalid folder")
		return "", false
	}
	return folder, true
}
