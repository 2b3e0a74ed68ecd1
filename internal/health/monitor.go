// Package health reconciles the three authentication truth-sources (auth
// client, session tracker, persisted token) and watches the backend credit
// endpoint for restart symptoms.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// Classification of a health check result.
type Classification string

const (
	StableAuthenticated     Classification = "stable_authenticated"
	StableUnauthenticated   Classification = "stable_unauthenticated"
	Unstable                Classification = "unstable"
	SuspectedBackendRestart Classification = "suspected_backend_restart"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultMaxWait      = 3 * time.Second
)

// Health is a per-check snapshot. It carries no long-lived identity; every
// check recomputes it from scratch.
type Health struct {
	AuthClientAuthenticated     bool           `json:"auth_client_authenticated"`
	SessionTrackerAuthenticated bool           `json:"session_tracker_authenticated"`
	HasPersistedToken           bool           `json:"has_persisted_token"`
	CreditBalance               int64          `json:"credit_balance"`
	CreditBalanceKnown          bool           `json:"credit_balance_known"`
	Classification              Classification `json:"classification"`
	LastCheckedAt               time.Time      `json:"last_checked_at"`
}

// Monitor polls the truth-sources. All dependencies are constructor
// injected; credits may be nil to skip the backend call.
type Monitor struct {
	tokens  session.TokenStore
	auth    session.AuthClient
	tracker session.SessionTracker
	credits session.CreditsAPI

	pollInterval time.Duration
	maxWait      time.Duration
	now          func() time.Time

	mu           sync.Mutex
	priorBalance int64 // last known nonzero balance; -1 before first fetch
}

// NewMonitor builds a monitor with default poll timings.
func NewMonitor(tokens session.TokenStore, auth session.AuthClient, tracker session.SessionTracker, credits session.CreditsAPI) *Monitor {
	return &Monitor{
		tokens:       tokens,
		auth:         auth,
		tracker:      tracker,
		credits:      credits,
		pollInterval: defaultPollInterval,
		maxWait:      defaultMaxWait,
		now:          time.Now,
		priorBalance: -1,
	}
}

// SetTimings overrides the stability loop timings, for tests.
func (m *Monitor) SetTimings(poll, maxWait time.Duration) {
	m.pollInterval = poll
	m.maxWait = maxWait
}

// PriorBalance returns the cached last-known nonzero balance, or -1 when
// none has been observed this process lifetime.
func (m *Monitor) PriorBalance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priorBalance
}

// RecordBalance caches a freshly fetched balance so later checks can
// detect the restart symptom. Zero balances never overwrite a prior
// nonzero one.
func (m *Monitor) RecordBalance(balance int64) {
	if balance <= 0 {
		return
	}
	m.mu.Lock()
	m.priorBalance = balance
	m.mu.Unlock()
}

// Check performs one health check: token presence and module flags are
// read directly, the credit balance concurrently. A failed credits call
// degrades the result to Unstable, never to an error.
func (m *Monitor) Check(ctx context.Context) Health {
	h := Health{LastCheckedAt: m.now(), CreditBalance: -1}

	type creditResult struct {
		balance int64
		err     error
	}
	var creditCh chan creditResult
	if m.credits != nil {
		creditCh = make(chan creditResult, 1)
		go func() {
			bal, err := m.credits.Balance(ctx)
			creditCh <- creditResult{balance: bal, err: err}
		}()
	}

	_, h.HasPersistedToken = m.tokens.Token()
	h.AuthClientAuthenticated = m.auth.Authenticated()
	h.SessionTrackerAuthenticated = m.tracker.Authenticated()

	creditErr := false
	if creditCh != nil {
		res := <-creditCh
		if res.err != nil {
			slog.Debug("health: credits fetch failed", "error", res.err)
			creditErr = true
		} else {
			h.CreditBalance = res.balance
			h.CreditBalanceKnown = true
			m.RecordBalance(res.balance)
		}
	}

	h.Classification = m.classify(h, creditErr)
	return h
}

func (m *Monitor) classify(h Health, creditErr bool) Classification {
	if creditErr {
		return Unstable
	}
	anyModule := h.AuthClientAuthenticated || h.SessionTrackerAuthenticated
	bothModules := h.AuthClientAuthenticated && h.SessionTrackerAuthenticated

	// Restart symptom: everything says authenticated, yet the backend
	// reports zero credits where it previously reported a balance. A
	// heuristic only; first-ever checks never qualify.
	if h.HasPersistedToken && bothModules && h.CreditBalanceKnown && h.CreditBalance == 0 && m.PriorBalance() > 0 {
		return SuspectedBackendRestart
	}
	if h.HasPersistedToken && anyModule {
		return StableAuthenticated
	}
	if !h.HasPersistedToken && !anyModule {
		return StableUnauthenticated
	}
	return Unstable
}

// CheckStable runs Check and, on an Unstable result, enters the bounded
// stability wait loop: fixed poll interval, hard wall-clock ceiling. It
// always terminates, falling back to a best-effort decision that favors
// the persisted token over either module's cached flag.
func (m *Monitor) CheckStable(ctx context.Context) Health {
	h := m.Check(ctx)
	if h.Classification != Unstable {
		return h
	}

	deadline := time.After(m.maxWait)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.bestEffort(h)
		case <-deadline:
			slog.Debug("health: stability wait ceiling reached", "max_wait", m.maxWait)
			return m.bestEffort(h)
		case <-ticker.C:
			h = m.Check(ctx)
			if h.Classification != Unstable {
				return h
			}
		}
	}
}

// bestEffort resolves a still-unstable snapshot: the token is the
// authoritative persisted signal.
func (m *Monitor) bestEffort(h Health) Health {
	if h.HasPersistedToken {
		h.Classification = StableAuthenticated
	} else {
		h.Classification = StableUnauthenticated
	}
	return h
}
