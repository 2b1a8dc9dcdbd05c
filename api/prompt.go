package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
)

// SubmitPrompt handles POST /prompt/:folder
//
// A prompt alone revives a folder: no prior POST /session is required.
// Delivered prompts answer 200, queued ones 202 with their position.
func (h *Handlers) SubmitPrompt(c *gin.Context) {
	folder, ok := h.resolveFolderParam(c)
	if !ok {
		return
	}

	var p models.Prompt
	if !h.bindJSON(c, &p) {
		return
	}

	_, pos, err := h.server.Manager().SubmitPrompt(folder, p)
	if err != nil {
		if errors.Is(err, bridge.ErrEmptyPrompt) {
			h.server.Hub().Record("request:rejected", folder)
			RespondBadRequest(c, "prompt has no text or content")
			return
		}
		RespondInternalError(c, "failed to submit prompt")
		return
	}

	if pos > 0 {
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "position": pos})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}
