// Package recovery drives the end-to-end password-recovery sequence:
// local activation when a recovery link opens in this tab, remote
// activation when another tab writes the shared store, and the ordered
// teardown (sign-out, clear store, reset filter) on completion or exit.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/authfilter"
	"github.com/dgnsrekt/tab_sentry/internal/recoverystore"
	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// Phase is the orchestrator's lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhasePending    Phase = "PENDING"
	PhaseActive     Phase = "ACTIVE"
	PhaseCompleting Phase = "COMPLETING"
	PhaseExiting    Phase = "EXITING"
)

// Orchestrator coordinates recovery mode across the filter, the shared
// store, and the identity provider client. All transitions are serialized
// under one mutex; consumers may call from any goroutine.
type Orchestrator struct {
	listener *recoverystore.Listener
	tokens   session.TokenStore
	filter   *authfilter.Filter
	auth     session.AuthClient
	tabID    string
	now      func() time.Time

	// onChange reports recovery activation/deactivation to the UI layer.
	// reason is "local", "remote", "completed", "exited", or "expired".
	onChange func(active bool, reason string)

	mu    sync.Mutex
	phase Phase
}

// New builds an orchestrator in IDLE. onChange may be nil. The now func is
// injectable for tests; nil uses time.Now.
func New(listener *recoverystore.Listener, tokens session.TokenStore, filter *authfilter.Filter, auth session.AuthClient, tabID string, onChange func(active bool, reason string), now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if onChange == nil {
		onChange = func(bool, string) {}
	}
	return &Orchestrator{
		listener: listener,
		tokens:   tokens,
		filter:   filter,
		auth:     auth,
		tabID:    tabID,
		now:      now,
		onChange: onChange,
		phase:    PhaseIdle,
	}
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Active reports whether recovery mode is active in this tab.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase == PhaseActive
}

// ActivateLocal enters recovery mode because a recovery link was opened in
// this tab. It writes the shared store, defensively clears any persisted
// token left over from a previous session, and switches the event filter
// to recovery mode. Re-activation while already active is a no-op.
func (o *Orchestrator) ActivateLocal(path string) error {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		slog.Debug("recovery already in progress, ignoring activation", "phase", o.phase)
		return nil
	}
	o.phase = PhasePending
	o.mu.Unlock()

	state := recoverystore.State{
		Active:     true,
		Timestamp:  o.now(),
		OwnerTabID: o.tabID,
		Path:       path,
	}
	if err := o.listener.Write(state); err != nil {
		o.setPhase(PhaseIdle)
		return session.NewError(session.CodeStoreFailure, "persist recovery state", err)
	}
	if err := o.tokens.ClearToken(); err != nil {
		slog.Warn("clear persisted token on recovery activation", "error", err)
	}
	o.filter.EnterRecovery()
	o.setPhase(PhaseActive)

	slog.Info("recovery activated", "owner", o.tabID, "path", path)
	o.onChange(true, "local")
	return nil
}

// HandleRemote is the listener callback. A non-nil active state activates
// recovery in this tab without writing the store back; nil deactivates.
// Safe under duplicate or out-of-order notifications.
func (o *Orchestrator) HandleRemote(s *recoverystore.State) {
	if s != nil && s.Active {
		o.mu.Lock()
		if o.phase != PhaseIdle {
			o.mu.Unlock()
			return
		}
		o.phase = PhaseActive
		o.mu.Unlock()

		o.filter.EnterRecovery()
		slog.Info("recovery activated remotely", "owner", s.OwnerTabID)
		o.onChange(true, "remote")
		return
	}

	// Remote clear or expiry: leave recovery mode without touching the
	// store; the owning tab already cleared it.
	o.mu.Lock()
	if o.phase == PhaseIdle {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseIdle
	o.mu.Unlock()

	o.filter.Reset()
	slog.Info("recovery cleared remotely")
	o.onChange(false, "remote")
}

// Complete finishes recovery after a successful password update. The
// teardown order is fixed: sign out first so no tab inherits the session
// the identity provider created during the flow, then clear the shared
// store, then reset the event filter. Teardown proceeds even when an
// earlier step fails; recovery mode must never wedge.
func (o *Orchestrator) Complete(ctx context.Context) error {
	return o.teardown(ctx, PhaseCompleting, "completed")
}

// Exit abandons recovery at the user's request, with the same ordered
// teardown as Complete.
func (o *Orchestrator) Exit(ctx context.Context) error {
	return o.teardown(ctx, PhaseExiting, "exited")
}

func (o *Orchestrator) teardown(ctx context.Context, via Phase, reason string) error {
	o.mu.Lock()
	if o.phase != PhaseActive {
		o.mu.Unlock()
		return session.NewError(session.CodeRecoveryConflict, "recovery is not active", nil)
	}
	o.phase = via
	o.mu.Unlock()

	var errs []error
	if err := o.auth.SignOut(ctx); err != nil {
		slog.Warn("sign-out during recovery teardown", "error", err)
		errs = append(errs, err)
	}
	if err := o.listener.Clear(); err != nil {
		slog.Warn("clear recovery state", "error", err)
		errs = append(errs, err)
	}
	o.filter.Reset()
	o.setPhase(PhaseIdle)

	slog.Info("recovery torn down", "reason", reason)
	o.onChange(false, reason)

	if len(errs) > 0 {
		return session.NewError(session.CodeStoreFailure, "recovery teardown incomplete", errors.Join(errs...))
	}
	return nil
}

// ReconcileExpired is the TTL backstop: if this tab believes recovery is
// active but the persisted state has expired or vanished, leave recovery
// mode. Intended to be called periodically.
func (o *Orchestrator) ReconcileExpired() {
	o.mu.Lock()
	active := o.phase == PhaseActive
	o.mu.Unlock()
	if !active {
		return
	}
	if o.listener.Read() != nil {
		return
	}

	o.mu.Lock()
	if o.phase != PhaseActive {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseIdle
	o.mu.Unlock()

	o.filter.Reset()
	slog.Info("recovery state expired, leaving recovery mode")
	o.onChange(false, "expired")
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}
