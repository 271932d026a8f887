package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/swefoundry/agentd/internal/relay"
)

// createUpgrader builds a WebSocket upgrader with explicit origin
// validation. Upgrades bypass CORS, so the allow list is enforced here.
func (s *Server) createUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  s.config.WSReadBufferSize,
		WriteBufferSize: s.config.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin or non-browser client.
				return true
			}
			if originAllowed(origin, s.config.AllowedOrigins) {
				return true
			}
			slog.Warn("websocket origin rejected", "origin", origin)
			return false
		},
	}
}

// handleSessionWS handles GET /api/sessions/{id}/ws: it attaches the
// connection as a viewer of the session. Binary frames carry raw terminal
// bytes in both directions. Text frames starting with the control sentinel
// are consumed as control operations; any other text frame is relayed as
// keystrokes.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	upgrader := s.createUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
		return
	}
	defer conn.Close()

	viewer, err := sess.Attach()
	if err != nil {
		// The session died between lookup and attach.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
		return
	}
	defer viewer.Close()

	slog.Info("viewer attached", "session_id", sess.ID, "remote", r.RemoteAddr)

	// Gorilla allows one concurrent writer; the close frame below shares
	// the connection with the output pump.
	var writeMu sync.Mutex

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range viewer.Output() {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
		// Output channel closed: the session ended or this viewer fell
		// too far behind and was detached.
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
		writeMu.Unlock()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		switch msgType {
		case websocket.BinaryMessage:
			viewer.Input(data)

		case websocket.TextMessage:
			ctrl, isControl := relay.ParseControl(string(data))
			if !isControl {
				viewer.Input(data)
				continue
			}
			switch ctrl.Op {
			case relay.OpResize:
				if err := sess.Resize(ctrl.Cols, ctrl.Rows); err != nil {
					slog.Warn("resize rejected",
						"session_id", sess.ID, "cols", ctrl.Cols, "rows", ctrl.Rows, "error", err)
				}
			case relay.OpInterrupt:
				sess.Interrupt()
			case relay.OpReset:
				sess.Reset()
			default:
				// Unrecognized control frame: consumed, never relayed.
			}
		}
	}

	viewer.Close()
	<-done
	slog.Info("viewer detached", "session_id", sess.ID, "remote", r.RemoteAddr)
}
