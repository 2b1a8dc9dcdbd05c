package server

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/db"
	"github.com/xiaoyuanzhu-com/gueridon/deposit"
	"github.com/xiaoyuanzhu-com/gueridon/folders"
	"github.com/xiaoyuanzhu-com/gueridon/hub"
	"github.com/xiaoyuanzhu-com/gueridon/log"
	"github.com/xiaoyuanzhu-com/gueridon/push"
)

// Server owns and coordinates all bridge components
type Server struct {
	cfg *config.Config

	// Components (owned by server)
	hub        *hub.Hub
	manager    *bridge.Manager
	folderSvc  *folders.Service
	pushSvc    *push.Service
	depositSvc *deposit.Service

	// Worker auth status cache, probed lazily on first /login/status
	loginMu      sync.Mutex
	loggedIn     bool
	loginChecked bool

	// Shutdown context - cancelled when the server is shutting down.
	// Long-running handlers (WebSocket, SSE) should listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	startedAt time.Time

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a server with all components initialized
func New() (*Server, error) {
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		startedAt:      time.Now(),
	}

	// 1. Open database (runs migrations)
	log.Info().Msg("initializing database")
	_ = db.GetDB()

	// 2. Sweep Workers orphaned by a previous crash
	bridge.ReapOrphans()

	// 3. Load the one-shot shutdown context from the previous run
	shutdownInfo := bridge.LoadShutdownContext()

	// 4. Client registry
	s.hub = hub.New()

	// 5. Push notifications
	log.Info().Msg("initializing push service")
	pushSvc, err := push.NewService(nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize push service: %w", err)
	}
	s.pushSvc = pushSvc

	// 6. Session supervisor
	log.Info().Msg("initializing session manager")
	s.manager = bridge.NewManager(s.hub, s.pushSvc, shutdownInfo)

	// 7. Folder scanner
	log.Info().Str("root", cfg.ScanRoot).Msg("initializing folder service")
	s.folderSvc = folders.NewService(cfg.ScanRoot, s.manager, s.hub)

	// 8. Deposit pipeline
	s.depositSvc = deposit.NewService()

	// 9. HTTP router
	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	// Gzip compression (skip streaming endpoints)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/events",     // SSE - needs streaming
		"/login",      // WebSocket - protocol upgrade
		"/upload/tus", // tus - offset bookkeeping breaks under compression
	})))

	// Trust proxy headers
	s.router.SetTrustedProxies(nil)

	// Ignore .well-known requests
	s.router.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	// Note: API routes are set up by main.go to avoid import cycles
}

// Start starts background services and the HTTP server (blocks)
func (s *Server) Start() error {
	log.Info().Msg("starting server components")

	if err := s.folderSvc.Start(); err != nil {
		return fmt.Errorf("failed to start folder watcher: %w", err)
	}

	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(), // Route Go's internal HTTP errors through zerolog
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Env).
		Str("worker", s.cfg.WorkerCmd).
		Msg("HTTP server starting")

	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server. signame is the signal that
// triggered the shutdown; it is recorded for the next run's restart
// classification.
func (s *Server) Shutdown(ctx context.Context, signame string) error {
	log.Info().Str("signal", signame).Msg("shutting down server")

	// 1. Signal long-running handlers (WebSocket, SSE) to stop. Give them a
	// moment so the HTTP shutdown below does not race hijacked connections.
	s.shutdownCancel()
	time.Sleep(100 * time.Millisecond)

	// 2. Write the shutdown context and tear down every session
	s.manager.Shutdown(signame)

	// 3. Stop background services
	s.folderSvc.Stop()
	s.pushSvc.Shutdown()

	// 4. Shutdown HTTP server (wait for in-flight requests)
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Close database last
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
		return err
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// WorkerLoggedIn returns the Worker CLI auth status, probing once and
// caching the result. A completed login relay updates the cache directly.
func (s *Server) WorkerLoggedIn() bool {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if !s.loginChecked {
		s.loggedIn = probeWorkerAuth(s.cfg.WorkerCmd)
		s.loginChecked = true
	}
	return s.loggedIn
}

// SetWorkerLoggedIn updates the cached auth status.
func (s *Server) SetWorkerLoggedIn(v bool) {
	s.loginMu.Lock()
	s.loggedIn = v
	s.loginChecked = true
	s.loginMu.Unlock()
}

func probeWorkerAuth(workerCmd string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := exec.CommandContext(ctx, workerCmd, "auth", "status").Run()
	if err != nil {
		log.Debug().Err(err).Msg("worker auth probe failed")
		return false
	}
	return true
}

// Component accessors for API handlers
func (s *Server) Hub() *hub.Hub                    { return s.hub }
func (s *Server) Manager() *bridge.Manager         { return s.manager }
func (s *Server) Folders() *folders.Service        { return s.folderSvc }
func (s *Server) Push() *push.Service              { return s.pushSvc }
func (s *Server) Deposit() *deposit.Service        { return s.depositSvc }
func (s *Server) Router() *gin.Engine              { return s.router }
func (s *Server) ShutdownContext() context.Context { return s.shutdownCtx }
func (s *Server) StartedAt() time.Time             { return s.startedAt }
