package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/authfilter"
	"github.com/dgnsrekt/tab_sentry/internal/recoverystore"
	"github.com/dgnsrekt/tab_sentry/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeAuth struct {
	mu       sync.Mutex
	calls    *[]string
	signOuts int
	err      error
}

func (a *fakeAuth) Authenticated() bool { return false }

func (a *fakeAuth) SignOut(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signOuts++
	if a.calls != nil {
		*a.calls = append(*a.calls, "sign_out")
	}
	return a.err
}

func (a *fakeAuth) RefreshToken(context.Context) error { return nil }

// orderStore wraps a store and records clears into a shared call log.
type orderStore struct {
	recoverystore.Store
	calls *[]string
}

func (s *orderStore) ClearState() error {
	*s.calls = append(*s.calls, "clear_store")
	return s.Store.ClearState()
}

type tabHarness struct {
	clock    *fakeClock
	store    recoverystore.Store
	listener *recoverystore.Listener
	filter   *authfilter.Filter
	auth     *fakeAuth
	orch     *Orchestrator
	changes  []string
}

func newTabHarness(t *testing.T, store recoverystore.Store, clock *fakeClock, tabID string) *tabHarness {
	t.Helper()
	h := &tabHarness{clock: clock, store: store, auth: &fakeAuth{}}
	h.filter = authfilter.New(nil, nil)
	onChange := func(active bool, reason string) {
		h.changes = append(h.changes, reason)
	}
	h.listener = recoverystore.NewListener(store, tabID, 0, func(s *recoverystore.State) {
		h.orch.HandleRemote(s)
	}, clock.now)
	h.orch = New(h.listener, store, h.filter, h.auth, tabID, onChange, clock.now)
	stop := h.listener.Start()
	t.Cleanup(stop)
	// Move past the startup grace window.
	clock.advance(time.Second)
	return h
}

func TestActivateLocalWritesStoreAndClearsToken(t *testing.T) {
	clock := newFakeClock()
	mem := recoverystore.NewMemStore()
	store := mem.Tab()
	if err := store.WriteToken("stale-token"); err != nil {
		t.Fatal(err)
	}
	h := newTabHarness(t, store, clock, "tab-a")

	if err := h.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatalf("ActivateLocal() = %v; want nil", err)
	}
	if got := h.orch.Phase(); got != PhaseActive {
		t.Errorf("Phase() = %v; want %v", got, PhaseActive)
	}
	if h.filter.Mode() != authfilter.ModeRecovery {
		t.Error("filter not in recovery mode after activation")
	}
	if _, ok := store.Token(); ok {
		t.Error("persisted token survived recovery activation")
	}
	s := store.ReadState()
	if s == nil || !s.Active || s.OwnerTabID != "tab-a" || s.Path != "/auth/reset" {
		t.Errorf("persisted state = %+v; want active, owned by tab-a", s)
	}
	if len(h.changes) != 1 || h.changes[0] != "local" {
		t.Errorf("onChange reasons = %v; want [local]", h.changes)
	}
}

func TestRemoteActivationReachesOtherTabWithoutWriting(t *testing.T) {
	clock := newFakeClock()
	mem := recoverystore.NewMemStore()
	a := newTabHarness(t, mem.Tab(), clock, "tab-a")
	b := newTabHarness(t, mem.Tab(), clock, "tab-b")

	if err := a.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatal(err)
	}
	if got := b.orch.Phase(); got != PhaseActive {
		t.Fatalf("tab B Phase() = %v; want %v", got, PhaseActive)
	}
	if b.filter.Mode() != authfilter.ModeRecovery {
		t.Error("tab B filter not in recovery mode")
	}
	s := b.store.ReadState()
	if s == nil || s.OwnerTabID != "tab-a" {
		t.Errorf("store owner = %+v; want tab-a (tab B must not write)", s)
	}
	if len(b.changes) != 1 || b.changes[0] != "remote" {
		t.Errorf("tab B onChange reasons = %v; want [remote]", b.changes)
	}
}

func TestCompleteTeardownOrderAndPropagation(t *testing.T) {
	clock := newFakeClock()
	mem := recoverystore.NewMemStore()
	var calls []string

	a := newTabHarness(t, &orderStore{Store: mem.Tab(), calls: &calls}, clock, "tab-a")
	a.auth.calls = &calls
	b := newTabHarness(t, mem.Tab(), clock, "tab-b")

	if err := a.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatal(err)
	}
	// Get clear of tab A's own-write guard window.
	clock.advance(2 * time.Second)

	if err := a.orch.Complete(context.Background()); err != nil {
		t.Fatalf("Complete() = %v; want nil", err)
	}
	want := []string{"sign_out", "clear_store"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("teardown order = %v; want %v", calls, want)
	}
	if a.filter.Mode() != authfilter.ModeNormal {
		t.Error("tab A filter not reset after completion")
	}
	if got := a.orch.Phase(); got != PhaseIdle {
		t.Errorf("tab A Phase() = %v; want %v", got, PhaseIdle)
	}
	if got := b.orch.Phase(); got != PhaseIdle {
		t.Errorf("tab B Phase() = %v; want %v", got, PhaseIdle)
	}
	if b.filter.Mode() != authfilter.ModeNormal {
		t.Error("tab B filter not reset after remote clear")
	}
}

func TestCompleteWhenIdleReturnsConflict(t *testing.T) {
	clock := newFakeClock()
	h := newTabHarness(t, recoverystore.NewMemStore().Tab(), clock, "tab-a")

	err := h.orch.Complete(context.Background())
	var coded *session.CodedError
	if !errors.As(err, &coded) || coded.Code != session.CodeRecoveryConflict {
		t.Fatalf("Complete() while idle = %v; want %s", err, session.CodeRecoveryConflict)
	}
}

func TestExitTearsDownEvenWhenSignOutFails(t *testing.T) {
	clock := newFakeClock()
	h := newTabHarness(t, recoverystore.NewMemStore().Tab(), clock, "tab-a")
	h.auth.err = errors.New("provider unreachable")

	if err := h.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatal(err)
	}
	err := h.orch.Exit(context.Background())
	if err == nil {
		t.Fatal("Exit() = nil; want error from failed sign-out")
	}
	if got := h.orch.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %v; want %v after failed sign-out", got, PhaseIdle)
	}
	if h.filter.Mode() != authfilter.ModeNormal {
		t.Error("filter not reset despite sign-out failure")
	}
	if h.store.ReadState() != nil {
		t.Error("recovery state not cleared despite sign-out failure")
	}
}

func TestReconcileExpiredLeavesRecoveryMode(t *testing.T) {
	clock := newFakeClock()
	h := newTabHarness(t, recoverystore.NewMemStore().Tab(), clock, "tab-a")

	if err := h.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatal(err)
	}
	clock.advance(recoverystore.DefaultTTL + time.Minute)

	h.orch.ReconcileExpired()
	if got := h.orch.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %v; want %v after TTL expiry", got, PhaseIdle)
	}
	if h.filter.Mode() != authfilter.ModeNormal {
		t.Error("filter still in recovery mode after TTL expiry")
	}
	if len(h.changes) != 2 || h.changes[1] != "expired" {
		t.Errorf("onChange reasons = %v; want [... expired]", h.changes)
	}
}

func TestActivateLocalIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	h := newTabHarness(t, recoverystore.NewMemStore().Tab(), clock, "tab-a")

	if err := h.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.ActivateLocal("/auth/reset"); err != nil {
		t.Fatalf("second ActivateLocal() = %v; want nil", err)
	}
	if len(h.changes) != 1 {
		t.Errorf("onChange fired %d times; want 1", len(h.changes))
	}
}
