// Package registry is the single source of truth for what is running now:
// it owns session metadata, the lifecycle state machine, and the periodic
// monitor that reclassifies sessions and reaps dead processes.
package registry

import (
	"sync"
	"time"

	"github.com/swefoundry/agentd/internal/pty"
	"github.com/swefoundry/agentd/internal/relay"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusStale    Status = "stale"
	StatusClosed   Status = "closed"
)

// Session pairs one pty handle with its lifecycle metadata. Identity
// fields are immutable after creation; status and activity are guarded by
// mu and only ever mutated in short critical sections with no I/O inside.
type Session struct {
	ID      string
	Name    string
	Command string
	Cwd     string
	Pid     int

	CreatedAt time.Time

	mu           sync.Mutex
	status       Status
	lastActivity time.Time

	handle *pty.Handle
	hub    *relay.Hub
}

// Info is a point-in-time snapshot of a session, shaped for the API.
type Info struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Command        string    `json:"command"`
	Pid            int       `json:"pid"`
	Cwd            string    `json:"cwd"`
	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	Viewers        int       `json:"viewers"`
}

// touch records activity: any byte in either direction or a control
// operation. Activity wakes idle and stale sessions back to running and
// counts as the first output for a starting one.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	switch s.status {
	case StatusStarting, StatusIdle, StatusStale:
		s.status = StatusRunning
	}
	s.mu.Unlock()
}

// promoteStarted moves a session still in starting to running once the
// startup timeout elapses without output.
func (s *Session) promoteStarted() {
	s.mu.Lock()
	if s.status == StatusStarting {
		s.status = StatusRunning
	}
	s.mu.Unlock()
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// markClosed transitions to closed. It reports false if the session was
// closed already, so cleanup runs exactly once. closed is terminal: no
// other transition ever leaves it.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return false
	}
	s.status = StatusClosed
	return true
}

// Snapshot returns the session's current public state.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	status := s.status
	last := s.lastActivity
	s.mu.Unlock()
	return Info{
		ID:             s.ID,
		Name:           s.Name,
		Command:        s.Command,
		Pid:            s.Pid,
		Cwd:            s.Cwd,
		Status:         status,
		LastActivityAt: last,
		CreatedAt:      s.CreatedAt,
		Viewers:        s.hub.ViewerCount(),
	}
}

// Attach connects a new viewer to the session's output stream.
func (s *Session) Attach() (*relay.Viewer, error) {
	return s.hub.Attach()
}

// Write relays input bytes into the session.
func (s *Session) Write(p []byte) {
	s.hub.Write(p)
}

// Resize propagates new terminal dimensions and counts as activity. A
// closed session reports ErrSessionNotRunning; closeSession marks the
// status before tearing down the handle, so the check covers the whole
// teardown window.
func (s *Session) Resize(cols, rows int) error {
	if s.Status() == StatusClosed {
		return ErrSessionNotRunning
	}
	if err := s.handle.Resize(cols, rows); err != nil {
		return err
	}
	s.touch()
	return nil
}

// Interrupt writes the interrupt control byte into the session.
func (s *Session) Interrupt() {
	s.hub.Write(relay.InterruptBytes)
}

// Reset writes the terminal reset escape into the session. The process is
// not restarted.
func (s *Session) Reset() {
	s.hub.Write(relay.ResetBytes)
}
