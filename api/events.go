package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/hub"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// pingInterval keeps intermediaries from closing an idle SSE stream.
const pingInterval = 30 * time.Second

// EventStream handles GET /events (SSE)
func (h *Handlers) EventStream(c *gin.Context) {
	requestedID := c.Query("clientId")

	// Browsers resend the last seen frame id on auto-reconnect; keep the
	// sequence monotonic across the gap so clients can spot replays.
	var seq int64
	reconnect := false
	if v := c.Request.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			seq = n
			reconnect = true
		}
	}
	if requestedID != "" {
		if _, ok := h.server.Hub().Get(requestedID); ok {
			reconnect = true
		}
	}

	client := h.server.Hub().Register(requestedID)
	defer func() {
		h.server.Manager().Detach(client)
		h.server.Hub().Unregister(client)
		log.Debug().Str("clientId", client.ID).Msg("event stream closed")
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Writer.WriteHeader(http.StatusOK)

	hello, err := json.Marshal(hub.Hello{
		Version:        hub.ProtocolVersion,
		ClientID:       client.ID,
		Reconnect:      reconnect,
		PushToken:      client.PushToken,
		VapidPublicKey: h.server.Push().PublicKey(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal hello frame")
		return
	}
	seq++
	if err := hub.WriteFrame(c.Writer, seq, "hello", hello); err != nil {
		return
	}
	c.Writer.Flush()

	log.Debug().
		Str("clientId", client.ID).
		Bool("reconnect", reconnect).
		Msg("client connected to event stream")

	// Lobby view rides along on connect. The buffer is empty here, so this
	// cannot block.
	if list, err := h.server.Folders().List(); err == nil {
		if f, ok := hub.FoldersFrame(list); ok {
			client.Send(f)
		}
	} else {
		log.Warn().Err(err).Msg("failed to list folders for connect frame")
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-client.Frames():
			seq++
			if err := hub.WriteFrame(c.Writer, seq, f.Event, f.Data); err != nil {
				return
			}
			c.Writer.Flush()

		case <-ticker.C:
			seq++
			if err := hub.WriteFrame(c.Writer, seq, "ping", []byte("{}")); err != nil {
				return
			}
			c.Writer.Flush()

		case <-client.Done():
			// Replaced by a reconnect under the same id.
			return

		case <-c.Request.Context().Done():
			return

		case <-h.server.ShutdownContext().Done():
			return
		}
	}
}
