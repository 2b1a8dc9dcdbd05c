package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/db"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

const (
	errorReportLimit  = 10
	errorReportWindow = time.Minute
)

// rateLimiter is a sliding-window counter.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

// Allow records an attempt and reports whether it fits in the window.
func (r *rateLimiter) Allow() bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := r.times[:0]
	for _, t := range r.times {
		if now.Sub(t) < r.window {
			keep = append(keep, t)
		}
	}
	r.times = keep
	if len(r.times) >= r.limit {
		return false
	}
	r.times = append(r.times, now)
	return true
}

// ReportClientError handles POST /client-error
func (h *Handlers) ReportClientError(c *gin.Context) {
	if !h.errorReports.Allow() {
		RespondTooManyRequests(c, "too many error reports")
		return
	}

	var e db.ClientError
	if !h.bindJSON(c, &e) {
		return
	}
	if e.Message == "" {
		RespondBadRequest(c, "message is required")
		return
	}
	e.UserAgent = c.Request.UserAgent()

	if err := db.InsertClientError(&e); err != nil {
		log.Error().Err(err).Msg("failed to store client error")
		RespondInternalError(c, "failed to store error report")
		return
	}
	log.Warn().
		Str("clientId", e.ClientID).
		Str("url", e.URL).
		Msg("client error: " + e.Message)
	c.Status(http.StatusNoContent)
}
