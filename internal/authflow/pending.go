package authflow

import (
	"net/url"
	"strings"
	"time"

	"warden/internal/credstore"
)

// PendingTTL is how long a login may stay in flight before its callback is
// rejected.
const PendingTTL = 10 * time.Minute

// PendingAuthorization is the correlation record persisted between building
// the login URL and receiving the callback.
type PendingAuthorization = credstore.PendingAuthorization

func pendingExpired(p *PendingAuthorization, now time.Time) bool {
	return p.CreatedAt.IsZero() || now.Sub(p.CreatedAt) > PendingTTL
}

// SanitizeReturnPath limits post-login redirects to local absolute paths.
// Anything else (absolute URLs, scheme-relative "//host" paths, empty values)
// becomes "/".
func SanitizeReturnPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return p
}
