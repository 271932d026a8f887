// Package relay fans a session's terminal byte stream out to attached
// viewers and funnels viewer input back into the pty.
package relay

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrHubClosed is returned by Attach once the session's output stream has
// ended.
var ErrHubClosed = errors.New("relay: hub closed")

// Endpoint is the bidirectional byte stream a hub relays for. *pty.Handle
// satisfies it.
type Endpoint interface {
	// Read blocks until output is available or the stream ends.
	Read(p []byte) (int, error)
	// Write forwards input bytes; failures are non-fatal to the relay.
	Write(p []byte)
}

// Hub is the per-session multiplexer: one reader loop drains the endpoint
// and delivers every chunk, in production order, to all attached viewers.
// A viewer whose queue is full is detached rather than allowed to stall
// the relay for the process or the other viewers.
type Hub struct {
	ep         Endpoint
	queueSize  int
	onActivity func()

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
	closed  bool

	done chan struct{}
}

// NewHub creates a hub and starts its reader loop. onActivity is invoked
// for every chunk relayed in either direction; it must be cheap and must
// not block.
func NewHub(ep Endpoint, queueSize int, onActivity func()) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	h := &Hub{
		ep:         ep,
		queueSize:  queueSize,
		onActivity: onActivity,
		viewers:    make(map[*Viewer]struct{}),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	buf := make([]byte, 4096)
	for {
		n, err := h.ep.Read(buf)
		if n > 0 {
			if h.onActivity != nil {
				h.onActivity()
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.broadcast(chunk)
		}
		if err != nil {
			break
		}
	}
	h.shutdown()
}

// broadcast delivers chunk to every attached viewer. Viewers that cannot
// keep up are collected and detached after the read lock is released.
func (h *Hub) broadcast(chunk []byte) {
	var slow []*Viewer

	h.mu.RLock()
	for v := range h.viewers {
		select {
		case v.out <- chunk:
		default:
			slow = append(slow, v)
		}
	}
	h.mu.RUnlock()

	for _, v := range slow {
		slog.Warn("detaching slow viewer", "queue", h.queueSize)
		h.Detach(v)
	}
}

// Attach registers a new viewer. The viewer starts receiving output
// produced after this call; no history is replayed.
func (h *Hub) Attach() (*Viewer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	v := &Viewer{
		hub: h,
		out: make(chan []byte, h.queueSize),
	}
	h.viewers[v] = struct{}{}
	return v, nil
}

// Detach removes a viewer and closes its output channel. Detaching the
// last viewer leaves the endpoint running. Safe to call more than once.
func (h *Hub) Detach(v *Viewer) {
	h.mu.Lock()
	_, attached := h.viewers[v]
	if attached {
		delete(h.viewers, v)
		close(v.out)
	}
	h.mu.Unlock()
}

// Write relays input bytes from any source (a viewer or the context
// injector) to the endpoint in arrival order. Input from concurrently
// attached viewers interleaves at chunk granularity; no single-writer
// lock is negotiated.
func (h *Hub) Write(p []byte) {
	if h.onActivity != nil {
		h.onActivity()
	}
	h.ep.Write(p)
}

// ViewerCount returns the number of currently attached viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Done is closed when the reader loop has ended and all viewers have been
// detached.
func (h *Hub) Done() <-chan struct{} { return h.done }

// shutdown detaches every viewer and marks the hub closed. It runs once,
// when the endpoint's output stream ends.
func (h *Hub) shutdown() {
	h.mu.Lock()
	for v := range h.viewers {
		delete(h.viewers, v)
		close(v.out)
	}
	h.closed = true
	h.mu.Unlock()
	close(h.done)
}

// Viewer is one attached transport endpoint. Chunks arrive on Output in
// production order; the channel is closed on detach or session end.
type Viewer struct {
	hub *Hub
	out chan []byte
}

// Output returns the channel of relayed output chunks.
func (v *Viewer) Output() <-chan []byte { return v.out }

// Input forwards bytes typed on this viewer to the session.
func (v *Viewer) Input(p []byte) { v.hub.Write(p) }

// Close detaches the viewer from its hub.
func (v *Viewer) Close() { v.hub.Detach(v) }
