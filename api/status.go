package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/db"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// GetStatus handles GET /status
//
// Diagnostics snapshot: uptime, memory, every live session, the recent
// broadcast ring, and the tail of reported client errors.
func (h *Handlers) GetStatus(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	clientErrors, err := db.RecentClientErrors(20)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load recent client errors")
	}

	c.JSON(http.StatusOK, gin.H{
		"startedAt":     h.server.StartedAt().UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(time.Since(h.server.StartedAt()).Seconds()),
		"memory": gin.H{
			"heapAlloc":    mem.HeapAlloc,
			"heapSys":      mem.HeapSys,
			"numGC":        mem.NumGC,
			"numGoroutine": runtime.NumGoroutine(),
		},
		"clients":      h.server.Hub().ClientCount(),
		"sessions":     h.server.Manager().Infos(),
		"recentEvents": h.server.Hub().Recent(),
		"clientErrors": clientErrors,
	})
}
