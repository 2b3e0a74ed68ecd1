// Package navguard suppresses the spurious history navigation the identity
// provider's URL-token parsing provokes during recovery, which would bounce
// the user off the recovery form. It never touches user navigation.
package navguard

import "strings"

// Event is a browser history back/forward notification.
type Event struct {
	// URL the history entry points at.
	URL string
	// UserInitiated is true for navigation the user performed (back or
	// forward button, gesture); provider-triggered popstate events during
	// token parsing carry false.
	UserInitiated bool
}

// Guard decides which history events to suppress.
type Guard struct {
	recoveryRoute string
	// recoveryActive reports whether recovery mode is active locally.
	recoveryActive func() bool
}

// New builds a guard for the given recovery route, e.g. "/auth/reset".
func New(recoveryRoute string, recoveryActive func() bool) *Guard {
	if recoveryActive == nil {
		recoveryActive = func() bool { return false }
	}
	return &Guard{recoveryRoute: recoveryRoute, recoveryActive: recoveryActive}
}

// ShouldSuppress returns true only when recovery is active locally AND the
// current path is the recovery route AND the event was not user-initiated.
func (g *Guard) ShouldSuppress(ev Event, currentPath string) bool {
	if ev.UserInitiated {
		return false
	}
	if !g.recoveryActive() {
		return false
	}
	return pathMatches(currentPath, g.recoveryRoute)
}

func pathMatches(path, route string) bool {
	if route == "" {
		return false
	}
	path = strings.TrimSuffix(path, "/")
	route = strings.TrimSuffix(route, "/")
	return path == route
}
