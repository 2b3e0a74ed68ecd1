package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dgnsrekt/tab_sentry/internal/recoverystore"
	"github.com/dgnsrekt/tab_sentry/internal/session"
)

const (
	// DefaultCooldown is the minimum spacing between restart-recovery
	// attempts, shared across all tabs through the persisted throttle.
	DefaultCooldown = 30 * time.Second
	// defaultMaxAttempts bounds the retry sequence within one run.
	defaultMaxAttempts = 3
)

// RestartRecovery re-establishes a correct session view after the backend
// process has restarted under a live tab: it re-validates the persisted
// token, re-fetches the credit balance, and invalidates local caches.
// Runs are gated by the persisted attempt throttle and an in-process
// guard so concurrent triggers collapse into one retry sequence.
type RestartRecovery struct {
	store   recoverystore.Store
	tokens  session.TokenStore
	credits session.CreditsAPI
	tracker session.SessionTracker

	cooldown    time.Duration
	maxAttempts uint64
	now         func() time.Time
	newBackoff  func() backoff.BackOff

	// onRefreshed fires with the refreshed balance after a successful run.
	// onExhausted fires after the final attempt fails; the UI shows a
	// "please refresh" notice.
	onRefreshed func(balance int64)
	onExhausted func(err error)

	mu      sync.Mutex
	running bool
}

// NewRestartRecovery wires the restart-recovery path. Either callback may
// be nil. The now func is injectable for tests; nil uses time.Now.
func NewRestartRecovery(store recoverystore.Store, tokens session.TokenStore, credits session.CreditsAPI, tracker session.SessionTracker, onRefreshed func(int64), onExhausted func(error), now func() time.Time) *RestartRecovery {
	if now == nil {
		now = time.Now
	}
	if onRefreshed == nil {
		onRefreshed = func(int64) {}
	}
	if onExhausted == nil {
		onExhausted = func(error) {}
	}
	return &RestartRecovery{
		store:       store,
		tokens:      tokens,
		credits:     credits,
		tracker:     tracker,
		cooldown:    DefaultCooldown,
		maxAttempts: defaultMaxAttempts,
		now:         now,
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			return bo
		},
		onRefreshed: onRefreshed,
		onExhausted: onExhausted,
	}
}

// SetTimings overrides the cooldown and backoff schedule for tests.
func (r *RestartRecovery) SetTimings(cooldown time.Duration, newBackoff func() backoff.BackOff) {
	if cooldown > 0 {
		r.cooldown = cooldown
	}
	if newBackoff != nil {
		r.newBackoff = newBackoff
	}
}

// Trigger starts one restart-recovery run if the throttle allows it.
// Returns a RECOVERY_CONFLICT error when an attempt ran within the
// cooldown window or a run is already in flight; callers treat that as
// "someone else is handling it".
func (r *RestartRecovery) Trigger(ctx context.Context) error {
	now := r.now()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return session.NewError(session.CodeRecoveryConflict, "restart recovery already running", nil)
	}
	if last, ok := r.store.LastAttempt(); ok && now.Sub(last) < r.cooldown {
		r.mu.Unlock()
		slog.Debug("restart recovery throttled",
			"since_last", now.Sub(last), "cooldown", r.cooldown)
		return session.NewError(session.CodeRecoveryConflict, "restart recovery attempted too recently", nil)
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if err := r.store.RecordAttempt(now); err != nil {
		slog.Warn("record restart recovery attempt", "error", err)
	}
	return r.run(ctx)
}

func (r *RestartRecovery) run(ctx context.Context) error {
	var balance int64
	attempt := 0

	op := func() error {
		attempt++
		token, ok := r.tokens.Token()
		if !ok {
			return backoff.Permanent(session.NewError(session.CodeAuthUnavailable, "no persisted token", nil))
		}
		identity, err := r.credits.Verify(ctx, token)
		if err != nil {
			return fmt.Errorf("verify token: %w", err)
		}
		if !identity.Valid {
			return backoff.Permanent(session.NewError(session.CodeAuthUnavailable, "persisted token rejected", nil))
		}
		bal, err := r.credits.Balance(ctx)
		if err != nil {
			return fmt.Errorf("fetch balance: %w", err)
		}
		balance = bal
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(r.newBackoff(), r.maxAttempts-1), ctx)
	notify := func(err error, wait time.Duration) {
		slog.Warn("restart recovery attempt failed",
			"attempt", attempt, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		slog.Error("restart recovery exhausted", "attempts", attempt, "error", err)
		wrapped := session.NewError(session.CodeRecoveryExhausted, "restart recovery failed", err)
		r.onExhausted(wrapped)
		return wrapped
	}

	r.tracker.Invalidate()
	slog.Info("restart recovery succeeded", "attempts", attempt, "balance", balance)
	r.onRefreshed(balance)
	return nil
}
