package api

import (
	"context"
	"net/http"
	"os/exec"

	"github.com/coder/websocket"
	"github.com/creack/pty"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// WorkerLoginStatus returns the cached Worker auth status
func (h *Handlers) WorkerLoginStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"loggedIn": h.server.WorkerLoggedIn(),
	})
}

// WorkerLogin spawns the Worker's login command in a PTY and pipes I/O over
// WebSocket. The PTY is killed when the WebSocket closes. Only the login
// command runs, no shell access.
func (h *Handlers) WorkerLogin(c *gin.Context) {
	log.MarkHijacked(c)
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("worker login: websocket accept failed")
		return
	}

	// Abort gin context to prevent middleware from writing to hijacked connection
	c.Abort()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Monitor server shutdown
	go func() {
		select {
		case <-h.server.ShutdownContext().Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	cmd := exec.Command(config.Get().WorkerCmd, "auth", "login")
	cmd.Env = append(cmd.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		log.Error().Err(err).Msg("worker login: failed to start pty")
		conn.Close(websocket.StatusInternalError, "failed to start login process")
		return
	}
	defer ptmx.Close()

	done := make(chan struct{})

	// PTY -> WebSocket
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, buf[:n]); err != nil {
				return
			}
		}
	}()

	// WebSocket -> PTY
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// WebSocket closed, kill the process
				cmd.Process.Kill()
				return
			}
			if _, err := ptmx.Write(data); err != nil {
				log.Debug().Err(err).Msg("worker login: pty write failed")
				return
			}
		}
	}()

	<-done
	exitErr := cmd.Wait()

	if exitErr == nil {
		// Login succeeded, update cached status
		h.server.SetWorkerLoggedIn(true)
		conn.Close(websocket.StatusNormalClosure, "login successful")
	} else {
		conn.Close(websocket.StatusNormalClosure, "login process exited")
	}
}
