package console

import (
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"golang.org/x/oauth2"

	"warden/internal/routegate"
	"warden/internal/session"
	"warden/pkg/logging"
	"warden/pkg/oauth"
)

// newProxy forwards requests to upstream with the session's bearer token.
// Browser cookies are not forwarded.
func newProxy(upstream *url.URL, manager *session.Manager, gate *routegate.Gate) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
		},
		Transport: &refreshingTransport{manager: manager},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, session.ErrNotAuthenticated) {
				http.Redirect(w, r, gate.LoginURL(r.URL.RequestURI()), http.StatusFound)
				return
			}
			logging.Warn("Console", "Upstream %s failed: %v", upstream.Host, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// refreshingTransport injects the bearer token and, when the upstream
// rejects it with error="invalid_token", refreshes the session once and
// replays the request.
type refreshingTransport struct {
	manager *session.Manager
	base    http.RoundTripper
}

func (t *refreshingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	bearer := &oauth2.Transport{Source: t.manager, Base: t.base}

	resp, err := bearer.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if !oauth.ParseWWWAuthenticateFromResponse(resp).InvalidToken() {
		return resp, nil
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}

	logging.Debug("Console", "Upstream rejected the access token, refreshing")
	if !t.manager.Refresh(req.Context()) {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return bearer.RoundTrip(retry)
}

// rewind returns a copy of req that can be sent again.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry := req.Clone(req.Context())
	retry.Body = body
	return retry, true
}
