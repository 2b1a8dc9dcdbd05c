package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all bridge routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	r.Use(RequestID())
	r.Use(h.CORSGate())

	// Event stream
	r.GET("/events", h.EventStream)

	// Lobby
	r.GET("/folders", h.ListFolders)
	r.GET("/status", h.GetStatus)

	// Session control. JSON bodies are small; cap them hard.
	ctl := r.Group("", MaxBody(jsonBodyLimit))
	ctl.POST("/session/:folder", h.ConnectSession)
	ctl.POST("/prompt/:folder", h.SubmitPrompt)
	ctl.POST("/abort/:folder", h.AbortWorker)
	ctl.POST("/exit/:folder", h.ExitSession)

	// Push subscriptions
	ctl.POST("/push/subscribe", h.PushSubscribe)
	ctl.POST("/push/unsubscribe", h.PushUnsubscribe)

	// Client error reports
	ctl.POST("/client-error", h.ReportClientError)

	// Uploads - static routes first, then the folder parameter
	up := r.Group("", MaxBody(uploadBodyLimit))
	up.POST("/upload", h.Upload)
	up.POST("/upload/finalize", h.FinalizeUpload)
	up.POST("/upload/:folder", h.Upload)
	up.Any("/upload/tus/*path", h.TUSHandler)

	// Worker authentication (terminal over WebSocket)
	r.GET("/login", h.WorkerLogin)
	r.GET("/login/status", h.WorkerLoginStatus)
}
