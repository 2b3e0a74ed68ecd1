// Package recoverystore persists the cross-tab password-recovery state,
// the recovery attempt throttle, and the bearer token in one origin-scoped
// keyspace. All values are last-writer-wins; consumers are idempotent and
// rely on TTL expiry instead of locks.
package recoverystore

import "time"

// DefaultTTL is the age beyond which a persisted State is invalid
// regardless of its Active flag.
const DefaultTTL = 30 * time.Minute

// Keys of the origin-scoped keyspace.
const (
	stateKey    = "recovery_state"
	throttleKey = "recovery_attempt"
	tokenKey    = "auth_token"
)

// State is the persisted, cross-tab visible recovery state. At most one
// logical State exists at a time.
type State struct {
	Active     bool      `json:"active"`
	Timestamp  time.Time `json:"timestamp"`
	OwnerTabID string    `json:"owner_tab_id"`
	Path       string    `json:"path"`
}

// Expired reports whether the state is older than ttl at the given time.
// An expired state must be treated identically to no state.
func (s *State) Expired(ttl time.Duration, now time.Time) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.Timestamp) > ttl
}

// throttleRecord is the persisted form of the recovery attempt throttle.
type throttleRecord struct {
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// Store is the origin-scoped shared keyspace. ReadState fails soft: absent
// or corrupt values read as nil, never as an error the caller must handle.
// OnChange callbacks fire for changes made by other tabs; the underlying
// primitive does not echo a tab's own writes, but some platforms still
// deliver stragglers, which Listener filters.
type Store interface {
	WriteState(s State) error
	ReadState() *State
	ClearState() error
	OnChange(fn func(*State)) (unsubscribe func())

	LastAttempt() (time.Time, bool)
	RecordAttempt(t time.Time) error

	Token() (string, bool)
	WriteToken(token string) error
	ClearToken() error
}
