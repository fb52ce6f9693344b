package session

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"warden/pkg/oauth"
)

// Token implements oauth2.TokenSource over the managed session. An access
// token inside the refresh window is refreshed first.
func (m *Manager) Token() (*oauth2.Token, error) {
	if !m.State().Authenticated() {
		return nil, ErrNotAuthenticated
	}
	if m.store.IsExpired() {
		ctx, cancel := context.WithTimeout(context.Background(), m.builder.Config().TokenTimeout)
		defer cancel()
		if !m.Refresh(ctx) {
			return nil, ErrNotAuthenticated
		}
	}

	sess, err := m.store.Load()
	if err != nil {
		return nil, ErrNotAuthenticated
	}
	tok := &oauth.Token{
		AccessToken:  sess.AccessToken,
		TokenType:    sess.TokenType,
		RefreshToken: sess.RefreshToken,
		IDToken:      sess.IDToken,
	}
	return tok.ToOAuth2Token(sess.ExpiresAt()), nil
}

// HTTPClient returns a client that authenticates requests with the current
// access token. Each request asks the Manager for the token, so a logout is
// honoured immediately. base may be nil.
func (m *Manager) HTTPClient(base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: m,
			Base:   base,
		},
	}
}
