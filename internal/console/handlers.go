package console

import (
	"encoding/json"
	"errors"
	"net/http"

	"warden/internal/authflow"
	"warden/internal/routegate"
	"warden/pkg/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleLogin starts the authorization-code flow. An already authenticated
// user goes straight to the return path.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := authflow.SanitizeReturnPath(r.URL.Query().Get(routegate.ReturnToParam))

	if s.manager.State().Authenticated() {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return
	}

	authURL, err := s.manager.Login(r.Context(), returnTo)
	if err != nil {
		logging.Error("Console", err, "Failed to build login URL")
		s.renderLoginFailed(w, http.StatusBadGateway, "The authorization server could not be reached.", err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the flow and sends the user back to where the
// login started. Every failure renders a page with a way back to login.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code, state, err := authflow.ParseCallback(r.URL.Query())
	if err != nil {
		var cbErr *authflow.CallbackError
		if errors.As(err, &cbErr) {
			logging.Warn("Console", "Authorization server reported %s", cbErr.Code)
		}
		s.manager.AbortLogin(err.Error())
		s.renderLoginFailed(w, http.StatusBadRequest, "The authorization server did not complete the sign-in.", err)
		return
	}

	returnPath, err := s.manager.CompleteLogin(r.Context(), code, state)
	if err != nil {
		msg := "The session could not be saved."
		switch {
		case errors.Is(err, authflow.ErrStateMismatch):
			msg = "This sign-in response does not match a login started here, or it has expired."
		case errors.Is(err, authflow.ErrExchangeFailed):
			msg = "The authorization code could not be exchanged for a session."
		}
		s.renderLoginFailed(w, http.StatusBadRequest, msg, err)
		return
	}

	http.Redirect(w, r, authflow.SanitizeReturnPath(returnPath), http.StatusFound)
}

// handleLogout clears the local session and hands over to the end-session
// endpoint. Without one the user lands on the console home page.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	logoutURL, err := s.manager.Logout(r.Context(), r.URL.Query().Get(routegate.ReturnToParam))
	if err != nil {
		logging.Warn("Console", "Local session cleared but no end-session URL: %v", err)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, logoutURL, http.StatusFound)
}

// handleSession reports the phase and identity. Tokens are never included.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.manager.State()); err != nil {
		logging.Error("Console", err, "Failed to encode session state")
	}
}

func (s *Server) renderIdentity(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Title:    "Session",
		Path:     r.URL.Path,
		LoginURL: s.gate.LoginURL(r.URL.RequestURI()),
		Identity: routegate.IdentityFromContext(r.Context()),
	}
	if data.Identity != nil {
		data.ExpiresAt = s.manager.Store().ExpiresAt()
	}
	renderPage(w, http.StatusOK, "identity.html", data)
}

func (s *Server) renderPlaceholder(w http.ResponseWriter, r *http.Request) {
	renderPage(w, 0, "placeholder.html", pageData{
		Title:   "Loading",
		Refresh: routegate.PlaceholderRetryAfter,
		Path:    r.URL.Path,
	})
}

func (s *Server) renderAccessDenied(w http.ResponseWriter, r *http.Request) {
	req, _ := routegate.RequirementFromContext(r.Context())
	renderPage(w, 0, "access_denied.html", pageData{
		Title:    "Access denied",
		Path:     r.URL.Path,
		Identity: routegate.IdentityFromContext(r.Context()),
		Roles:    req.Roles,
	})
}

func (s *Server) renderLoginFailed(w http.ResponseWriter, status int, message string, err error) {
	data := pageData{
		Title:    "Sign-in failed",
		LoginURL: s.gate.LoginURL(""),
		Message:  message,
	}
	if err != nil {
		data.Detail = err.Error()
	}
	renderPage(w, status, "login_failed.html", data)
}
