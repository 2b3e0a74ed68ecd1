// Package sentry wires the session lifecycle coordinator together: the
// auth event filter, the shared recovery store, the health monitor, the
// navigation guard, and the recovery orchestrator, exposed as one service
// the control API and the tab watcher both talk to.
package sentry

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/audit"
	"github.com/dgnsrekt/tab_sentry/internal/authfilter"
	"github.com/dgnsrekt/tab_sentry/internal/config"
	"github.com/dgnsrekt/tab_sentry/internal/health"
	"github.com/dgnsrekt/tab_sentry/internal/navguard"
	"github.com/dgnsrekt/tab_sentry/internal/recovery"
	"github.com/dgnsrekt/tab_sentry/internal/recoverystore"
	"github.com/dgnsrekt/tab_sentry/internal/relay"
	"github.com/dgnsrekt/tab_sentry/internal/session"
	"github.com/dgnsrekt/tab_sentry/internal/tabid"
)

// RecoveryStatus is the coordinator's view of recovery mode.
type RecoveryStatus struct {
	Active     bool      `json:"active"`
	Phase      string    `json:"phase"`
	OwnerTabID string    `json:"owner_tab_id,omitempty"`
	Path       string    `json:"path,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	TabID      string    `json:"tab_id"`
}

// Deps are the constructor-injected collaborators.
type Deps struct {
	Cfg     *config.Config
	Store   recoverystore.Store
	Auth    session.AuthClient
	Credits session.CreditsAPI
	Broker  *relay.Broker
	Audit   *audit.Writer
}

// Service is the coordinator behind the control API.
type Service struct {
	cfg     *config.Config
	tabID   string
	credits session.CreditsAPI
	tracker *Tracker
	filter  *authfilter.Filter
	guard   *navguard.Guard
	orch    *recovery.Orchestrator
	monitor *health.Monitor
	restart *recovery.RestartRecovery
	broker  *relay.Broker
	audit   *audit.Writer

	listener     *recoverystore.Listener
	stopListener func()
}

// New builds the coordinator. Audit may be nil.
func New(d Deps) *Service {
	s := &Service{
		cfg:     d.Cfg,
		tabID:   tabid.Current(),
		credits: d.Credits,
		tracker: NewTracker(),
		broker:  d.Broker,
		audit:   d.Audit,
	}

	s.filter = authfilter.New(s.onFilteredEvent, s.onRecoveryEvent)
	s.filter.OnSuppressed(func(ev session.Event) {
		s.appendAudit(audit.KindAuthEventSuppressed, map[string]any{"kind": ev.Kind})
	})
	s.listener = recoverystore.NewListener(d.Store, s.tabID, d.Cfg.RecoveryTTL, s.onRemoteChange, nil)
	s.orch = recovery.New(s.listener, d.Store, s.filter, d.Auth, s.tabID, s.onRecoveryChange, nil)
	s.guard = navguard.New(d.Cfg.RecoveryRoute, s.orch.Active)
	s.monitor = health.NewMonitor(d.Store, d.Auth, s.tracker, d.Credits)
	s.restart = recovery.NewRestartRecovery(d.Store, d.Store, d.Credits, s.tracker,
		s.onCreditsRefreshed, s.onRestartExhausted, nil)
	s.restart.SetTimings(d.Cfg.AttemptCooldown, nil)
	return s
}

// Run subscribes to cross-tab notifications and drives the periodic TTL
// backstop until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.stopListener = s.listener.Start()
	defer s.stopListener()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.orch.ReconcileExpired()
		}
	}
}

// HandleAuthEvent feeds one raw identity provider event through the
// filter. The auth event stream subscribes this.
func (s *Service) HandleAuthEvent(ev session.Event) {
	s.filter.Handle(ev)
}

// SessionHealth runs a stability-bounded health check. A suspected
// backend restart kicks off the restart-recovery path in the background;
// the check itself never blocks on it.
func (s *Service) SessionHealth(ctx context.Context) (health.Health, error) {
	h := s.monitor.CheckStable(ctx)
	s.appendAudit(audit.KindHealthClassified, h)

	if h.Classification == health.SuspectedBackendRestart {
		slog.Warn("suspected backend restart", "balance", h.CreditBalance,
			"prior_balance", s.monitor.PriorBalance())
		go func() {
			if err := s.restart.Trigger(context.Background()); err != nil {
				slog.Debug("restart recovery not started", "error", err)
			}
		}()
	}
	return h, nil
}

// RecoveryStatus reports the local phase plus the persisted cross-tab
// state, with TTL applied.
func (s *Service) RecoveryStatus(ctx context.Context) (RecoveryStatus, error) {
	_ = ctx
	status := RecoveryStatus{
		Active: s.orch.Active(),
		Phase:  string(s.orch.Phase()),
		TabID:  s.tabID,
	}
	if st := s.listener.Read(); st != nil {
		status.OwnerTabID = st.OwnerTabID
		status.Path = st.Path
		status.StartedAt = st.Timestamp
	}
	return status, nil
}

// CompleteRecovery finishes the flow after a successful password update.
func (s *Service) CompleteRecovery(ctx context.Context) error {
	return s.orch.Complete(ctx)
}

// ExitRecovery abandons the flow at the user's request.
func (s *Service) ExitRecovery(ctx context.Context) error {
	return s.orch.Exit(ctx)
}

// Credits fetches the balance and caches it for the restart heuristic.
func (s *Service) Credits(ctx context.Context) (int64, error) {
	bal, err := s.credits.Balance(ctx)
	if err != nil {
		return 0, err
	}
	s.monitor.RecordBalance(bal)
	return bal, nil
}

// RecoveryLinkOpened implements the tab watcher sink: a recovery link in
// a watched tab activates recovery locally.
func (s *Service) RecoveryLinkOpened(tabKey, path string) {
	if err := s.orch.ActivateLocal(path); err != nil {
		slog.Error("activate recovery from tab navigation", "tab", tabKey, "error", err)
	}
}

// ShouldSuppress implements the tab watcher sink via the navigation guard.
func (s *Service) ShouldSuppress(ev navguard.Event, currentPath string) bool {
	return s.guard.ShouldSuppress(ev, currentPath)
}

// TabID returns this process's tab identity.
func (s *Service) TabID() string { return s.tabID }

func (s *Service) onFilteredEvent(ev session.Event) {
	s.tracker.Apply(ev)
	s.broker.Publish(relay.FeedSession, map[string]any{
		"kind":        ev.Kind,
		"received_at": ev.ReceivedAt,
	})
}

// onRecoveryEvent fires once per NORMAL->RECOVERY edge of the filter,
// which happens when the provider delivers PASSWORD_RECOVERY before any
// navigation is seen.
func (s *Service) onRecoveryEvent(ev session.Event) {
	if err := s.orch.ActivateLocal(s.cfg.RecoveryRoute); err != nil {
		slog.Error("activate recovery from auth event", "error", err)
	}
}

func (s *Service) onRemoteChange(st *recoverystore.State) {
	s.orch.HandleRemote(st)
}

func (s *Service) onRecoveryChange(active bool, reason string) {
	kind := audit.KindRecoveryCleared
	if active {
		kind = audit.KindRecoveryActivated
	}
	s.appendAudit(kind, map[string]string{"reason": reason})
	s.broker.Publish(relay.FeedRecovery, map[string]any{
		"active": active,
		"reason": reason,
	})
}

func (s *Service) onCreditsRefreshed(balance int64) {
	s.monitor.RecordBalance(balance)
	s.appendAudit(audit.KindRestartRecoveryRun, map[string]any{
		"outcome": "refreshed",
		"balance": balance,
	})
	s.broker.Publish(relay.FeedCredits, map[string]any{
		"balance":   balance,
		"refreshed": true,
	})
}

func (s *Service) onRestartExhausted(err error) {
	s.appendAudit(audit.KindRestartRecoveryRun, map[string]any{
		"outcome": "exhausted",
		"error":   err.Error(),
	})
	s.broker.Publish(relay.FeedCredits, map[string]any{
		"refreshed":        false,
		"refresh_required": true,
	})
}

func (s *Service) appendAudit(kind string, detail any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(kind, detail); err != nil {
		slog.Debug("audit append", "kind", kind, "error", err)
	}
}
