// Package console serves the local gated console: the login, callback and
// logout endpoints of the authorization-code flow, a session API, and the
// configured routes behind the route gate.
package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"warden/internal/config"
	"warden/internal/routegate"
	"warden/internal/session"
	"warden/pkg/logging"
)

const (
	// CallbackPath receives the authorization server redirect.
	CallbackPath = "/callback"

	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// PublicURL returns the externally visible base URL of the console.
func PublicURL(cfg config.ConsoleConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimSuffix(cfg.PublicURL, "/")
	}
	return "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// CallbackURL returns the redirect URI to register for the console.
func CallbackURL(cfg config.ConsoleConfig) string {
	return PublicURL(cfg) + CallbackPath
}

// Server is the console HTTP server.
type Server struct {
	cfg      config.ConsoleConfig
	manager  *session.Manager
	gate     *routegate.Gate
	handler  http.Handler
	listener net.Listener
}

// New creates a console for manager. The manager's redirect URI must be
// CallbackURL(cfg).
func New(cfg config.ConsoleConfig, manager *session.Manager) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		manager: manager,
	}
	s.gate = routegate.New(manager,
		routegate.WithPlaceholderHandler(http.HandlerFunc(s.renderPlaceholder)),
		routegate.WithAccessDeniedHandler(http.HandlerFunc(s.renderAccessDenied)),
	)

	handler, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.handler = handler
	return s, nil
}

// Handler returns the console's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET "+CallbackPath, s.handleCallback)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("GET /api/session", s.handleSession)

	hasRoot := false
	for _, rc := range s.cfg.Routes {
		req := routegate.Requirement{RequireAuth: rc.RequireAuth, Roles: rc.Roles}

		var next http.Handler = http.HandlerFunc(s.renderIdentity)
		if rc.Upstream != "" {
			upstream, err := url.Parse(rc.Upstream)
			if err != nil {
				return nil, fmt.Errorf("invalid upstream for route %s: %w", rc.Prefix, err)
			}
			next = newProxy(upstream, s.manager, s.gate)
		}

		mux.Handle(rc.Prefix, s.gate.Protect(req, next))
		logging.Debug("Console", "Route %s require_auth=%t roles=%v upstream=%q", rc.Prefix, rc.RequireAuth, rc.Roles, rc.Upstream)
		if rc.Prefix == "/" {
			hasRoot = true
		}
	}
	if !hasRoot {
		mux.Handle("/", s.gate.Protect(routegate.Requirement{}, http.HandlerFunc(s.renderIdentity)))
	}

	return mux, nil
}

// Listen binds the console address.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve serves until ctx is done and then shuts down gracefully. It calls
// Listen if needed and notifies systemd once the socket is bound.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(s.listener)
	}()

	logging.Info("Console", "Console listening on %s (public URL %s)", s.listener.Addr(), PublicURL(s.cfg))
	notifySystemd(daemon.SdNotifyReady)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	notifySystemd(daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("console shutdown: %w", err)
	}
	return nil
}

func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		logging.Warn("Console", "systemd notification failed: %v", err)
	case sent:
		logging.Debug("Console", "Notified systemd: %s", state)
	}
}
