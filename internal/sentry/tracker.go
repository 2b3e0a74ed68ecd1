package sentry

import (
	"sync"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// Tracker is the session-health tracker truth source. It follows the
// filtered auth event stream, so during recovery mode it never flips to
// authenticated; Invalidate forces a pessimistic reset after a suspected
// backend restart.
type Tracker struct {
	mu            sync.Mutex
	authenticated bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Authenticated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authenticated
}

func (t *Tracker) Invalidate() {
	t.mu.Lock()
	t.authenticated = false
	t.mu.Unlock()
}

// Apply updates the tracker from one filtered event.
func (t *Tracker) Apply(ev session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Kind {
	case session.EventSignedIn, session.EventInitialSession:
		t.authenticated = true
	case session.EventSignedOut:
		t.authenticated = false
	}
}
