package session

import (
	"context"
	"fmt"
	"time"
)

const (
	CodeValidation         = "VALIDATION"
	CodeAuthUnavailable    = "AUTH_UNAVAILABLE"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeCDPUnavailable     = "CDP_UNAVAILABLE"
	CodeStoreFailure       = "STORE_FAILURE"
	CodeRecoveryConflict   = "RECOVERY_CONFLICT"
	CodeRecoveryExhausted  = "RECOVERY_EXHAUSTED"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// EventKind identifies an identity provider event.
type EventKind string

const (
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
	EventInitialSession   EventKind = "INITIAL_SESSION"
)

// Event is a single identity provider event, optionally carrying a session.
type Event struct {
	Kind       EventKind `json:"kind"`
	Session    *Session  `json:"session,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Session is the token payload attached to identity provider events.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Identity is the canonical user identity returned by token verification.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Valid  bool   `json:"valid"`
}

// TokenStore reads and clears the persisted bearer token. The token is the
// authoritative, persisted auth signal; the in-memory modules may lag it.
type TokenStore interface {
	Token() (string, bool)
	ClearToken() error
}

// AuthClient is the identity provider's in-memory client.
type AuthClient interface {
	Authenticated() bool
	SignOut(ctx context.Context) error
	RefreshToken(ctx context.Context) error
}

// SessionTracker is the session-health tracker module.
type SessionTracker interface {
	Authenticated() bool
	Invalidate()
}

// CreditsAPI is the backend credit/profile endpoint. Balance may be
// momentarily stale (zero) right after a backend restart.
type CreditsAPI interface {
	Balance(ctx context.Context) (int64, error)
	Verify(ctx context.Context, token string) (Identity, error)
}
