package authflow

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultCallbackPort is the loopback port used by CLI logins. It must match a
// redirect URI registered for the client.
const DefaultCallbackPort = 8085

// CallbackTimeout is how long a CLI login waits for the browser.
const CallbackTimeout = PendingTTL

var (
	//go:embed templates/callback_success.html
	callbackSuccessHTML string

	//go:embed templates/callback_error.html
	callbackErrorHTML string

	callbackSuccessTmpl = template.Must(template.New("success").Parse(callbackSuccessHTML))
	callbackErrorTmpl   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// CallbackResult is the query of the redirect back from the authorization
// server.
type CallbackResult struct {
	Code  string
	State string

	// Err is a *CallbackError when the authorization server reported one.
	Err error
}

// CallbackServer is a temporary loopback HTTP server that receives a single
// authorization callback.
type CallbackServer struct {
	port      int
	server    *http.Server
	listener  net.Listener
	resultCh  chan *CallbackResult
	errorCh   chan error
	once      sync.Once
	serverURL string
}

// NewCallbackServer creates a callback server for port. Port 0 selects
// DefaultCallbackPort; use a negative port for an ephemeral one.
func NewCallbackServer(port int) *CallbackServer {
	if port == 0 {
		port = DefaultCallbackPort
	}
	if port < 0 {
		port = 0
	}
	return &CallbackServer{
		port:     port,
		resultCh: make(chan *CallbackResult, 1),
		errorCh:  make(chan error, 1),
	}
}

// Start listens on 127.0.0.1 and returns the redirect URI to register in
// the authorization request. The server stops when ctx is cancelled.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.serverURL = fmt.Sprintf("http://localhost:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// WaitForCallback blocks until the callback arrives or ctx is done.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	code, state, err := ParseCallback(r.URL.Query())
	result := &CallbackResult{Code: code, State: state, Err: err}

	var cbErr *CallbackError
	if errors.As(err, &cbErr) {
		w.WriteHeader(http.StatusBadRequest)
		_ = callbackErrorTmpl.Execute(w, map[string]string{
			"Error":       cbErr.Code,
			"Description": cbErr.Description,
		})
	} else {
		_ = callbackSuccessTmpl.Execute(w, nil)
	}

	select {
	case s.resultCh <- result:
	default:
	}

	// Give the response time to flush before shutting down.
	go func() {
		time.Sleep(time.Second)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// RedirectURI returns the callback URL.
func (s *CallbackServer) RedirectURI() string {
	return s.serverURL + "/callback"
}

// Port returns the port the server is listening on.
func (s *CallbackServer) Port() int {
	return s.port
}
