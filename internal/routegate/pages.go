package routegate

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

// SetSecurityHeaders sets the headers every HTML page served by warden
// carries.
func SetSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func setPageHeaders(w http.ResponseWriter) {
	SetSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

// The defaults write bodies only; Protect has already written the status.

func defaultPlaceholder(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><meta http-equiv="refresh" content="1"><title>Loading - Warden</title></head>
<body><p>Checking your session&hellip;</p></body>
</html>`)
}

func defaultAccessDenied(w http.ResponseWriter, r *http.Request) {
	roles := ""
	if req, ok := RequirementFromContext(r.Context()); ok {
		roles = strings.Join(req.Roles, ", ")
	}
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Access Denied - Warden</title></head>
<body><h1>Access denied</h1><p>This page requires one of the roles: %s</p></body>
</html>`, html.EscapeString(roles))
}
