package api

import "github.com/xiaoyuanzhu-com/gueridon/server"

// Handlers holds dependencies for API handlers
type Handlers struct {
	server       *server.Server
	errorReports *rateLimiter
}

// NewHandlers creates a new Handlers instance
func NewHandlers(srv *server.Server) *Handlers {
	return &Handlers{
		server:       srv,
		errorReports: newRateLimiter(errorReportLimit, errorReportWindow),
	}
}
