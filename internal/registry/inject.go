package registry

import (
	"context"
	"strings"
	"time"
)

// Inject delivers text to a session's stdin as if typed, with a trailing
// newline. Delivery waits until the session is at least InjectDelay old so
// text never races the shell's startup echo; after the wait the session
// must be running or idle.
func (r *Registry) Inject(ctx context.Context, id, text string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}

	if wait := r.opts.InjectDelay - time.Since(sess.CreatedAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	switch sess.Status() {
	case StatusRunning, StatusIdle:
	default:
		return ErrSessionNotRunning
	}

	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	sess.Write([]byte(text + "\n"))
	return nil
}
