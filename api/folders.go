package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// ListFolders handles GET /folders
func (h *Handlers) ListFolders(c *gin.Context) {
	list, err := h.server.Folders().List()
	if err != nil {
		log.Error().Err(err).Msg("failed to list folders")
		RespondInternalError(c, "failed to list folders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": list})
}
