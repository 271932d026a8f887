// Package pty owns the lifetime of one spawned process and its pseudo-terminal.
package pty

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// MaxRows is the authoritative ceiling on terminal rows. Resize requests
// above it are rejected so a malformed client cannot force pathological
// buffer reflows. The same limit exists in the reference web client, but it
// must hold here regardless of which client connects.
const MaxRows = 200

// ErrRowsTooLarge is returned by Resize for row counts above MaxRows.
var ErrRowsTooLarge = fmt.Errorf("rows exceed maximum of %d", MaxRows)

// SpawnError reports a failed session spawn. No process or pty resources
// are held after it is returned.
type SpawnError struct {
	Stage string // "cwd", "command" or "pty"
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn failed (%s): %v", e.Stage, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Handle owns one OS process attached to a pseudo-terminal pair. The
// process runs the given command line under an interactive login shell so
// that shell initialization files apply and full-screen CLI tools see a
// real terminal.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pid  int

	mu     sync.Mutex
	exited bool

	done      chan struct{}
	closeOnce sync.Once
}

// shellPrelude hardens terminal behavior before the user command runs:
// disable flow control and CR/NL translation quirks that break byte-exact
// relaying, and advertise a full-color terminal.
const shellPrelude = "export TERM=xterm-256color; export COLORTERM=truecolor; stty -ixon -icrnl -inlcr; "

// Start allocates a pty pair and spawns command (a shell command line)
// wrapped in `/bin/bash -lc` with cwd as working directory. The child
// becomes a session leader with the pty slave as controlling terminal.
func Start(command, cwd string, cols, rows int) (*Handle, error) {
	if cwd != "" {
		info, err := os.Stat(cwd)
		if err != nil {
			return nil, &SpawnError{Stage: "cwd", Err: err}
		}
		if !info.IsDir() {
			return nil, &SpawnError{Stage: "cwd", Err: fmt.Errorf("not a directory: %s", cwd)}
		}
	}
	if err := resolveCommand(command); err != nil {
		return nil, &SpawnError{Stage: "command", Err: err}
	}

	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if rows > MaxRows {
		rows = MaxRows
	}

	cmd := exec.Command("/bin/bash", "-lc", shellPrelude+command)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, &SpawnError{Stage: "pty", Err: err}
	}

	h := &Handle{
		cmd:  cmd,
		ptmx: ptmx,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}

	go func() {
		cmd.Wait()
		h.mu.Lock()
		h.exited = true
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// resolveCommand rejects command lines whose executable cannot be found.
// The shell itself is always resolvable; for anything else the first token
// must be an absolute path or resolvable on PATH. Shell builtins used as
// the leading word are rare enough in practice that the original system
// applied the same rule.
func resolveCommand(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("empty command")
	}
	if trimmed == "/bin/bash" || trimmed == "bash" {
		return nil
	}
	exe := strings.Fields(trimmed)[0]
	if strings.HasPrefix(exe, "/") {
		return nil
	}
	if _, err := exec.LookPath(exe); err != nil {
		return fmt.Errorf("command not found on PATH: %s", exe)
	}
	return nil
}

// Pid returns the OS process id of the spawned child.
func (h *Handle) Pid() int { return h.pid }

// Done is closed once the child process has been reaped, whether it exited
// on its own or was terminated.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child process has exited.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Read reads the next chunk of terminal output. It blocks until bytes are
// available, the process exits, or Terminate closes the pty.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ptmx.Read(p)
}

// Write forwards raw bytes to the process's stdin via the pty master.
// Writes after process exit are logged and dropped; they are never fatal.
func (h *Handle) Write(p []byte) {
	if h.Exited() {
		slog.Debug("pty write after exit dropped", "pid", h.pid, "bytes", len(p))
		return
	}
	if _, err := h.ptmx.Write(p); err != nil {
		slog.Debug("pty write failed", "pid", h.pid, "error", err)
	}
}

// Resize propagates a window-size change to the pty. Requests with rows
// above MaxRows are rejected with ErrRowsTooLarge and have no effect.
func (h *Handle) Resize(cols, rows int) error {
	if rows > MaxRows {
		return ErrRowsTooLarge
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Terminate stops the child: SIGTERM to its process group, then SIGKILL
// after grace if it has not exited, then the pty descriptors are released.
// Closing the pty unblocks any pending Read. Safe to call more than once.
func (h *Handle) Terminate(grace time.Duration) {
	h.closeOnce.Do(func() {
		if !h.Exited() {
			// The child is a session leader, so -pid addresses the
			// whole process group including anything it spawned.
			syscall.Kill(-h.pid, syscall.SIGTERM)
			select {
			case <-h.done:
			case <-time.After(grace):
				slog.Warn("process group did not exit in grace period, killing", "pid", h.pid, "grace", grace)
				syscall.Kill(-h.pid, syscall.SIGKILL)
				<-h.done
			}
		}
		h.ptmx.Close()
		slog.Info("pty released", "pid", h.pid)
	})
}
