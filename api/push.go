package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/push"
)

// requirePushToken gates the push endpoints on a token minted for some
// connected client. Returns false with a 401 already written.
func (h *Handlers) requirePushToken(c *gin.Context) bool {
	token := c.Request.Header.Get("X-Push-Token")
	if !h.server.Hub().ValidPushToken(token) {
		h.server.Hub().Record("request:rejected", "")
		RespondUnauthorized(c, "invalid push token")
		return false
	}
	return true
}

// PushSubscribe handles POST /push/subscribe
func (h *Handlers) PushSubscribe(c *gin.Context) {
	if !h.requirePushToken(c) {
		return
	}

	var sub push.Subscription
	if !h.bindJSON(c, &sub) {
		return
	}
	if err := h.server.Push().Subscribe(sub); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

// PushUnsubscribe handles POST /push/unsubscribe
func (h *Handlers) PushUnsubscribe(c *gin.Context) {
	if !h.requirePushToken(c) {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !h.bindJSON(c, &req) {
		return
	}
	removed := h.server.Push().Unsubscribe(req.Endpoint)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
