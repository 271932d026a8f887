package registry

import (
	"context"
	"log/slog"
	"time"
)

// RunMonitor runs the periodic lifecycle sweep until ctx is canceled. One
// sweep runs immediately so a freshly restarted process converges without
// waiting a full interval.
func (r *Registry) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(r.opts.MonitorInterval)
	defer ticker.Stop()

	r.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep reaps sessions whose process has exited and reclassifies the rest
// by activity age. The map lock is held only to copy the session list;
// per-session work takes each session's own lock.
func (r *Registry) sweep() {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, sess)
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, sess := range list {
		if sess.handle.Exited() {
			slog.Info("session process exited", "session_id", sess.ID, "pid", sess.Pid)
			r.closeSession(sess)
			continue
		}

		status, last := sess.reclassify(now, r.opts.IdleAfter, r.opts.StaleAfter)
		if err := r.store.UpdateSessionState(sess.ID, string(status), last); err != nil {
			slog.Error("archive state update failed", "session_id", sess.ID, "error", err)
		}
	}
}

// reclassify applies the activity thresholds. A session still starting is
// left alone; running decays to idle past idleAfter and either state decays
// to stale past staleAfter.
func (s *Session) reclassify(now time.Time, idleAfter, staleAfter time.Duration) (Status, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gap := now.Sub(s.lastActivity)
	switch s.status {
	case StatusRunning:
		if gap >= staleAfter {
			s.status = StatusStale
		} else if gap >= idleAfter {
			s.status = StatusIdle
		}
	case StatusIdle:
		if gap >= staleAfter {
			s.status = StatusStale
		}
	}
	return s.status, s.lastActivity
}
