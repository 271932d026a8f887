package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swefoundry/agentd/internal/pty"
	"github.com/swefoundry/agentd/internal/relay"
	"github.com/swefoundry/agentd/internal/store"
)

// ErrSessionNotFound is returned for ids that never existed or whose
// archive row has been purged.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionNotRunning is returned for control or injection operations on
// a session that has already been closed.
var ErrSessionNotRunning = errors.New("session not running")

// Options tunes the registry's lifecycle behavior.
type Options struct {
	DefaultCommand string
	DefaultRows    int
	DefaultCols    int

	IdleAfter       time.Duration
	StaleAfter      time.Duration
	MonitorInterval time.Duration

	// StartTimeout bounds the starting state for silent commands.
	StartTimeout time.Duration
	// TerminateGrace is the SIGTERM-to-SIGKILL window on close.
	TerminateGrace time.Duration
	// InjectDelay is the minimum session age before injected text is
	// delivered.
	InjectDelay time.Duration

	ViewerQueueSize int
}

// Registry maps session ids to live sessions. It is the only structure
// mutated by multiple actors (creation, deletion, monitor, lookups); every
// mutation is single-session-scoped, and no pty or process I/O happens
// while the map lock is held.
type Registry struct {
	opts  Options
	store *store.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a registry persisting archive rows to st.
func New(opts Options, st *store.Store) *Registry {
	if opts.DefaultCommand == "" {
		opts.DefaultCommand = "/bin/bash"
	}
	if opts.DefaultRows <= 0 {
		opts.DefaultRows = 24
	}
	if opts.DefaultCols <= 0 {
		opts.DefaultCols = 80
	}
	return &Registry{
		opts:     opts,
		store:    st,
		sessions: make(map[string]*Session),
	}
}

// Create spawns a process under a pty and registers the session. It is the
// sole entry point for bringing a session into existence. On spawn failure
// no session record is left behind.
func (r *Registry) Create(name, command, cwd string) (*Session, error) {
	if command == "" {
		command = r.opts.DefaultCommand
	}

	// Spawn happens before any lock is taken.
	handle, err := pty.Start(command, cwd, r.opts.DefaultCols, r.opts.DefaultRows)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Name:         name,
		Command:      command,
		Cwd:          cwd,
		Pid:          handle.Pid(),
		CreatedAt:    now,
		status:       StatusStarting,
		lastActivity: now,
		handle:       handle,
	}
	sess.hub = relay.NewHub(handle, r.opts.ViewerQueueSize, sess.touch)
	time.AfterFunc(r.opts.StartTimeout, sess.promoteStarted)

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	if err := r.store.InsertSession(store.SessionRecord{
		ID:      sess.ID,
		Name:    sess.Name,
		Command: sess.Command,
		Cwd:     sess.Cwd,
		Pid:     sess.Pid,
		Status:  string(StatusStarting),
	}); err != nil {
		slog.Error("archive insert failed", "session_id", sess.ID, "error", err)
	}

	slog.Info("session created",
		"session_id", sess.ID, "pid", sess.Pid, "name", name, "cwd", cwd, "command", command)
	return sess, nil
}

// Get returns a live session. A miss distinguishes ids that were closed
// (archive row still present) from ids that never existed.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess := r.sessions[id]
	r.mu.RUnlock()
	if sess != nil {
		return sess, nil
	}
	return nil, r.missingError(id)
}

// missingError maps a registry miss to the right error by consulting the archive.
func (r *Registry) missingError(id string) error {
	rec, err := r.store.GetSession(id)
	if err != nil {
		return fmt.Errorf("lookup session %s: %w", id, err)
	}
	if rec != nil {
		return ErrSessionNotRunning
	}
	return ErrSessionNotFound
}

// ListActive snapshots all non-closed sessions, most recent activity first.
func (r *Registry) ListActive() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, sess.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivityAt.After(infos[j].LastActivityAt)
	})
	return infos
}

// Delete closes a session: terminate the process group, detach all
// viewers, mark the archive row closed, keep the metadata. Idempotent for
// any id that ever existed.
func (r *Registry) Delete(id string) error {
	r.mu.RLock()
	sess := r.sessions[id]
	r.mu.RUnlock()

	if sess != nil {
		r.closeSession(sess)
		return nil
	}

	found, err := r.store.CloseSession(id)
	if err != nil {
		return err
	}
	if !found {
		return ErrSessionNotFound
	}
	return nil
}

// Resize propagates new dimensions to a live session.
func (r *Registry) Resize(id string, cols, rows int) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	return sess.Resize(cols, rows)
}

// Interrupt writes the interrupt byte into a live session.
func (r *Registry) Interrupt(id string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	sess.Interrupt()
	return nil
}

// Reset writes the terminal reset escape into a live session.
func (r *Registry) Reset(id string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	sess.Reset()
	return nil
}

// closeSession performs the one-time teardown for a session. The status
// flip happens under the session lock; the process kill, pty release, and
// archive update all run outside any lock. Terminating the pty closes the
// master descriptor, which ends the hub's reader loop and detaches every
// viewer.
func (r *Registry) closeSession(sess *Session) {
	if !sess.markClosed() {
		return
	}

	sess.handle.Terminate(r.opts.TerminateGrace)

	if _, err := r.store.CloseSession(sess.ID); err != nil {
		slog.Error("archive close failed", "session_id", sess.ID, "error", err)
	}

	r.mu.Lock()
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	slog.Info("session closed", "session_id", sess.ID, "pid", sess.Pid)
}

// CloseAll tears down every live session. Used by tests and by operators
// who want a clean stop; a plain restart intentionally leaves processes
// running (the in-memory registry is not reconciled on startup).
func (r *Registry) CloseAll() {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, sess)
	}
	r.mu.RUnlock()

	for _, sess := range list {
		r.closeSession(sess)
	}
}
