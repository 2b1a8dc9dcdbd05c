package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// Body size caps. JSON bodies carry prompts and error reports; uploads
// carry file payloads.
const (
	jsonBodyLimit   = 1 << 20  // 1 MB
	uploadBodyLimit = 50 << 20 // 50 MB
)

// RequestID tags every request with a short identifier for log correlation
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()[:8]
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// CORSGate allows localhost development origins, the Capacitor shell, and
// the configured Tailscale hostname. Requests from any other origin are
// rejected outright.
func (h *Handlers) CORSGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if !originAllowed(origin) {
				h.server.Hub().Record("request:rejected", "")
				log.Warn().
					Str("origin", origin).
					Str("path", c.Request.URL.Path).
					Msg("request rejected: origin not allowed")
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
				return
			}

			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Last-Event-ID, X-Push-Token, Upload-Offset, Upload-Length, Upload-Metadata, Tus-Resumable, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Upload-Offset, Upload-Length, Location, Tus-Resumable, X-Request-Id")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(origin string) bool {
	if origin == "capacitor://localhost" {
		return true
	}

	cfg := config.Get()
	if cfg.IsDevelopment() {
		if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
			return true
		}
	}
	if cfg.TailscaleHostname != "" {
		if origin == "https://"+cfg.TailscaleHostname || origin == "http://"+cfg.TailscaleHostname {
			return true
		}
	}
	return false
}

// MaxBody caps the request body size. Oversized bodies surface as a
// MaxBytesError when the handler reads them.
func MaxBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// bindJSON decodes a JSON body into v, rejecting malformed or oversized
// input without touching the session. Returns false when a response has
// already been written.
func (h *Handlers) bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.server.Hub().Record("request:rejected", "")

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			RespondPayloadTooLarge(c, "request body too large")
			return false
		}
		RespondBadRequest(c, "invalid request body")
		return false
	}
	return true
}
