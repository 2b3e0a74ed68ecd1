package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

type fakeTokens struct{ token string }

func (f *fakeTokens) Token() (string, bool) { return f.token, f.token != "" }
func (f *fakeTokens) ClearToken() error     { f.token = ""; return nil }

// fakeAuth guards its flag: CheckStable reads it from the test goroutine
// while tests flip it concurrently.
type fakeAuth struct {
	mu     sync.Mutex
	authed bool
}

func (f *fakeAuth) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeAuth) setAuthed(v bool) {
	f.mu.Lock()
	f.authed = v
	f.mu.Unlock()
}

func (f *fakeAuth) SignOut(context.Context) error      { return nil }
func (f *fakeAuth) RefreshToken(context.Context) error { return nil }

type fakeTracker struct{ authed bool }

func (f *fakeTracker) Authenticated() bool { return f.authed }
func (f *fakeTracker) Invalidate()         {}

type fakeCredits struct {
	balance int64
	err     error
}

func (f *fakeCredits) Balance(context.Context) (int64, error) { return f.balance, f.err }
func (f *fakeCredits) Verify(context.Context, string) (session.Identity, error) {
	return session.Identity{Valid: true}, nil
}

func TestCheck_ClassificationTable(t *testing.T) {
	cases := []struct {
		name    string
		token   string
		auth    bool
		tracker bool
		want    Classification
	}{
		{"all agree authenticated", "tok", true, true, StableAuthenticated},
		{"partial auth accepted", "tok", true, false, StableAuthenticated},
		{"tracker only accepted", "tok", false, true, StableAuthenticated},
		{"all agree unauthenticated", "", false, false, StableUnauthenticated},
		{"module claims auth without token", "", true, false, Unstable},
		{"token without any module", "tok", false, false, Unstable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMonitor(&fakeTokens{token: tc.token}, &fakeAuth{authed: tc.auth}, &fakeTracker{authed: tc.tracker}, nil)
			h := m.Check(context.Background())
			if h.Classification != tc.want {
				t.Fatalf("Check() classification = %q; want %q", h.Classification, tc.want)
			}
		})
	}
}

func TestCheck_SuspectedBackendRestart(t *testing.T) {
	credits := &fakeCredits{balance: 120}
	m := NewMonitor(&fakeTokens{token: "tok"}, &fakeAuth{authed: true}, &fakeTracker{authed: true}, credits)

	// First check caches the nonzero balance.
	if h := m.Check(context.Background()); h.Classification != StableAuthenticated {
		t.Fatalf("Check() = %q with nonzero balance; want %q", h.Classification, StableAuthenticated)
	}

	// Backend restarted: balance collapses to zero while auth looks fine.
	credits.balance = 0
	h := m.Check(context.Background())
	if h.Classification != SuspectedBackendRestart {
		t.Fatalf("Check() = %q after balance collapse; want %q", h.Classification, SuspectedBackendRestart)
	}
}

func TestCheck_ZeroBalanceOnFirstCheckIsNotRestart(t *testing.T) {
	m := NewMonitor(&fakeTokens{token: "tok"}, &fakeAuth{authed: true}, &fakeTracker{authed: true}, &fakeCredits{balance: 0})
	h := m.Check(context.Background())
	if h.Classification == SuspectedBackendRestart {
		t.Fatalf("Check() = %q on first-ever check; a legitimate zero-credit account must not classify as restart", h.Classification)
	}
	if h.Classification != StableAuthenticated {
		t.Fatalf("Check() = %q; want %q", h.Classification, StableAuthenticated)
	}
}

func TestCheck_CreditsFailureDegradesToUnstable(t *testing.T) {
	m := NewMonitor(&fakeTokens{token: "tok"}, &fakeAuth{authed: true}, &fakeTracker{authed: true}, &fakeCredits{err: errors.New("connection refused")})
	h := m.Check(context.Background())
	if h.Classification != Unstable {
		t.Fatalf("Check() = %q on credits failure; want %q", h.Classification, Unstable)
	}
}

func TestCheckStable_ResolvesOnceSourcesAgree(t *testing.T) {
	auth := &fakeAuth{authed: true}
	m := NewMonitor(&fakeTokens{token: ""}, auth, &fakeTracker{authed: false}, nil)
	m.SetTimings(5*time.Millisecond, 200*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		auth.setAuthed(false)
	}()

	h := m.CheckStable(context.Background())
	if h.Classification != StableUnauthenticated {
		t.Fatalf("CheckStable() = %q; want %q after sources converge", h.Classification, StableUnauthenticated)
	}
}

func TestCheckStable_CeilingFavorsToken(t *testing.T) {
	// Permanently conflicted: token present, no module agrees.
	m := NewMonitor(&fakeTokens{token: "tok"}, &fakeAuth{}, &fakeTracker{}, nil)
	m.SetTimings(5*time.Millisecond, 30*time.Millisecond)

	start := time.Now()
	h := m.CheckStable(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("CheckStable() took %v; the wait loop must terminate at its ceiling", elapsed)
	}
	if h.Classification != StableAuthenticated {
		t.Fatalf("CheckStable() = %q at ceiling; want %q (token is authoritative)", h.Classification, StableAuthenticated)
	}
}
