package tabwatch

import (
	"net/url"
	"strings"
)

// IsRecoveryLink reports whether rawURL is a password-recovery link: its
// path is the recovery route and it carries the identity provider's
// markers (type=recovery plus a non-empty access_token), in either the
// query string or the fragment. A matching route without both markers is
// an ordinary visit, not an activation.
func IsRecoveryLink(rawURL, route string) bool {
	if route == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.TrimRight(u.Path, "/") != strings.TrimRight(route, "/") {
		return false
	}

	params := u.Query()
	if fragment := u.Fragment; fragment != "" {
		// Providers commonly deliver tokens in the fragment so they never
		// reach server logs.
		if fragQuery, err := url.ParseQuery(fragment); err == nil {
			for k, vs := range fragQuery {
				for _, v := range vs {
					params.Add(k, v)
				}
			}
		}
	}

	return params.Get("type") == "recovery" && params.Get("access_token") != ""
}
