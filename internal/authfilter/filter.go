// Package authfilter wraps the identity provider's raw event stream in a
// two-state machine. While recovery mode is active it suppresses the
// events that would silently authenticate a tab, which is the core
// anti-hijack guarantee of the recovery flow.
package authfilter

import (
	"log/slog"
	"sync"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// Mode is the filter state.
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeRecovery Mode = "RECOVERY"
)

// Filter sits between the identity provider event stream and downstream
// listeners. Transitions into RECOVERY happen on a recovery-indicating
// event; the reverse transition only happens via Reset, never from an
// event.
type Filter struct {
	mu   sync.Mutex
	mode Mode

	forward func(session.Event)
	// onRecovery fires exactly once per NORMAL->RECOVERY transition;
	// redelivered recovery events are forwarded but cause no side effects.
	onRecovery   func(session.Event)
	onSuppressed func(session.Event)
}

// New builds a filter in NORMAL mode. forward receives every event that
// passes the filter; onRecovery is invoked on the NORMAL->RECOVERY edge.
func New(forward, onRecovery func(session.Event)) *Filter {
	if forward == nil {
		forward = func(session.Event) {}
	}
	if onRecovery == nil {
		onRecovery = func(session.Event) {}
	}
	return &Filter{
		mode:         ModeNormal,
		forward:      forward,
		onRecovery:   onRecovery,
		onSuppressed: func(session.Event) {},
	}
}

// OnSuppressed registers an observer for events the filter swallows.
func (f *Filter) OnSuppressed(fn func(session.Event)) {
	if fn == nil {
		fn = func(session.Event) {}
	}
	f.mu.Lock()
	f.onSuppressed = fn
	f.mu.Unlock()
}

// Mode returns the current filter state.
func (f *Filter) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// EnterRecovery switches to RECOVERY without an event, for recovery
// activations detected via the route rather than the event stream.
func (f *Filter) EnterRecovery() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != ModeRecovery {
		f.mode = ModeRecovery
		slog.Info("auth filter entering recovery mode")
	}
}

// Reset returns the filter to NORMAL. Only the orchestrator calls this,
// after completion or explicit exit.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != ModeNormal {
		f.mode = ModeNormal
		slog.Info("auth filter reset to normal mode")
	}
}

// Handle processes one raw identity provider event.
func (f *Filter) Handle(ev session.Event) {
	f.mu.Lock()
	mode := f.mode
	transition := false
	if ev.Kind == session.EventPasswordRecovery && mode == ModeNormal {
		f.mode = ModeRecovery
		transition = true
	}
	suppressed := f.onSuppressed
	f.mu.Unlock()

	if transition {
		slog.Info("auth filter entering recovery mode", "trigger", ev.Kind)
		f.onRecovery(ev)
		f.forward(ev)
		return
	}

	if mode == ModeNormal {
		f.forward(ev)
		return
	}

	// RECOVERY mode.
	switch ev.Kind {
	case session.EventPasswordRecovery:
		// Idempotent redelivery: forward, no side effects.
		f.forward(ev)
	case session.EventSignedOut:
		f.forward(ev)
	case session.EventSignedIn, session.EventInitialSession:
		slog.Debug("auth filter swallowed event during recovery", "kind", ev.Kind)
		suppressed(ev)
	default:
		f.forward(ev)
	}
}
