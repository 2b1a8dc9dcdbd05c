package bridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// Supervisor timing.
const (
	flushInterval   = 250 * time.Millisecond
	initTimeout     = 30 * time.Second
	killGrace       = 3 * time.Second
	earlyExitWindow = 10 * time.Second
	promptRecency   = 10 * time.Minute
	stderrRingSize  = 20
)

// workerProcess wraps one spawned Worker subprocess.
type workerProcess struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	pid       int
	spawnedAt time.Time
}

// spawnWorker launches the Worker for a session in its folder. The Worker
// gets its own process group so escalation reaches its children too.
func spawnWorker(folder, sessionID string, resume bool) (*workerProcess, error) {
	cfg := config.Get()
	cmd := exec.Command(cfg.WorkerCmd, buildWorkerArgs(sessionID, resume)...)
	cmd.Dir = folder
	cmd.Env = workerEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Cmd: cfg.WorkerCmd, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Cmd: cfg.WorkerCmd, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Cmd: cfg.WorkerCmd, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Cmd: cfg.WorkerCmd, Err: err}
	}

	w := &workerProcess{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		pid:       cmd.Process.Pid,
		spawnedAt: time.Now(),
	}
	log.Info().
		Str("folder", folder).
		Str("sessionId", sessionID).
		Bool("resume", resume).
		Int("pid", w.pid).
		Msg("worker spawned")
	return w, nil
}

// workerEnv builds the child environment: the bridge's own, minus the
// variables that would make the Worker think it is running inside itself,
// plus flags disabling terminal niceties.
func workerEnv() []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CLAUDECODE=") || strings.HasPrefix(kv, "CLAUDE_CODE_ENTRYPOINT=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "NO_COLOR=1", "TERM=dumb")
}

// killWithEscalation sends SIGINT to the Worker's process group, then
// SIGKILL after a short grace if it is still alive. The escalation timer
// runs detached so it never delays bridge shutdown.
func (w *workerProcess) killWithEscalation() {
	if w == nil || w.cmd == nil || w.cmd.Process == nil {
		return
	}
	pid := w.pid
	signalGroup(pid, syscall.SIGINT)
	time.AfterFunc(killGrace, func() {
		if pidAlive(pid) {
			log.Warn().Int("pid", pid).Msg("worker ignored SIGINT, sending SIGKILL")
			signalGroup(pid, syscall.SIGKILL)
		}
	})
}

// signalGroup signals the process group, falling back to the process itself
// when the group is already gone.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		syscall.Kill(pid, sig)
	}
}

// pidAlive probes a pid with signal 0. EPERM means the process exists but
// belongs to someone else, which still counts as alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// descendantPids enumerates all live descendants of pid by walking /proc.
// Service managers that kill only the group leader leave reparented children
// holding fds and TTYs; a sweep must reach them too.
func descendantPids(pid int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	children := make(map[int][]int)
	for _, entry := range entries {
		p, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ppid, ok := parentPid(p)
		if !ok {
			continue
		}
		children[ppid] = append(children[ppid], p)
	}

	var out []int
	queue := []int{pid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// parentPid reads the ppid from /proc/<pid>/stat. The comm field may contain
// spaces and parens, so parsing starts after the closing paren.
func parentPid(pid int) (int, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, false
	}
	s := string(data)
	i := strings.LastIndex(s, ")")
	if i < 0 || i+2 >= len(s) {
		return 0, false
	}
	fields := strings.Fields(s[i+2:])
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return ppid, true
}

// exitStatus extracts the exit code and, when signaled, the signal name.
func exitStatus(cmd *exec.Cmd) (int, string) {
	if cmd.ProcessState == nil {
		return -1, ""
	}
	code := cmd.ProcessState.ExitCode()
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return code, signalName(ws.Signal())
	}
	return code, ""
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return fmt.Sprintf("signal %d", int(sig))
	}
}
