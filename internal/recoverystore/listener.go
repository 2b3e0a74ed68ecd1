package recoverystore

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// startupGrace ignores notifications arriving right after load,
	// which can be leftovers from a previous page load.
	startupGrace = 100 * time.Millisecond
	// localWriteWindow guards against platform-level event ordering
	// anomalies around our own writes.
	localWriteWindow = time.Second
)

// Listener consumes cross-tab change notifications safely. Every genuine
// remote change invokes onRemote with the current persisted state (nil for
// a clear); echoes of this tab's own writes, startup stragglers, and
// expired states are dropped. Notification payloads are treated as hints:
// the store is always re-read before acting.
type Listener struct {
	store  Store
	tabID  string
	ttl    time.Duration
	now    func() time.Time
	clock0 time.Time

	mu             sync.Mutex
	lastLocalWrite time.Time

	onRemote func(*State)
}

// NewListener wires a listener for the given tab identity. ttl <= 0 uses
// DefaultTTL. The now func is injectable for tests.
func NewListener(store Store, tabID string, ttl time.Duration, onRemote func(*State), now func() time.Time) *Listener {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Listener{
		store:    store,
		tabID:    tabID,
		ttl:      ttl,
		now:      now,
		clock0:   now(),
		onRemote: onRemote,
	}
}

// Start subscribes to store change notifications. The returned func
// unsubscribes.
func (l *Listener) Start() func() {
	return l.store.OnChange(l.handle)
}

// Write persists the state through this tab, recording the write locally
// before the persist call so any echoed notification is suppressed.
func (l *Listener) Write(s State) error {
	l.noteLocalWrite()
	return l.store.WriteState(s)
}

// Clear removes the persisted state, recording the local write first.
func (l *Listener) Clear() error {
	l.noteLocalWrite()
	return l.store.ClearState()
}

// Read returns the current persisted state with TTL applied: an expired
// state reads as nil.
func (l *Listener) Read() *State {
	s := l.store.ReadState()
	if s.Expired(l.ttl, l.now()) {
		return nil
	}
	return s
}

func (l *Listener) noteLocalWrite() {
	l.mu.Lock()
	l.lastLocalWrite = l.now()
	l.mu.Unlock()
}

func (l *Listener) handle(hint *State) {
	now := l.now()

	if now.Sub(l.clock0) < startupGrace {
		slog.Debug("recovery listener: notification within startup grace, ignoring")
		return
	}
	if hint != nil && hint.OwnerTabID == l.tabID {
		slog.Debug("recovery listener: own-write echo, ignoring", "tab_id", l.tabID)
		return
	}
	l.mu.Lock()
	recentLocal := !l.lastLocalWrite.IsZero() && now.Sub(l.lastLocalWrite) < localWriteWindow
	l.mu.Unlock()
	if recentLocal {
		slog.Debug("recovery listener: local write within guard window, ignoring")
		return
	}

	// Re-derive truth from the store; the hint may be stale or reordered.
	current := l.store.ReadState()
	if current != nil {
		if current.OwnerTabID == l.tabID {
			return
		}
		if current.Expired(l.ttl, now) {
			slog.Debug("recovery listener: expired state, treating as absent",
				"age", now.Sub(current.Timestamp))
			current = nil
		}
	}
	l.onRemote(current)
}
