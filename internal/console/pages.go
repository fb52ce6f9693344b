package console

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/Masterminds/sprig/v3"

	"warden/internal/identity"
	"warden/internal/routegate"
	"warden/pkg/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("console").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html"))

// pageData is shared by every console template.
type pageData struct {
	Title    string
	Refresh  int
	Path     string
	LoginURL string

	Identity  *identity.Identity
	ExpiresAt time.Time

	// Roles are the roles a denied route requires.
	Roles []string

	Message string
	Detail  string
}

// renderPage executes name into a buffer first so a template error never
// leaves a half-written page. A zero status means the caller already wrote
// the header.
func renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Error("Console", err, "Failed to render %s", name)
		if status != 0 {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	if status != 0 {
		routegate.SetSecurityHeaders(w)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	_, _ = w.Write(buf.Bytes())
}
