package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"warden/internal/credstore"
	"warden/pkg/logging"
	"warden/pkg/oauth"
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"openid", "profile", "email"}

// Config describes the client registration at the authorization server.
// Endpoints left empty are discovered from Issuer.
type Config struct {
	Issuer   string
	ClientID string
	Scopes   []string

	// UsePKCE adds an S256 code challenge to authorization requests.
	UsePKCE bool

	AuthorizationEndpoint string
	TokenEndpoint         string
	EndSessionEndpoint    string

	// TokenTimeout bounds each token endpoint request.
	TokenTimeout time.Duration
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the clock used for pending authorization timestamps.
func WithClock(c credstore.Clock) Option {
	return func(b *Builder) {
		b.clock = c
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Builder constructs login and logout URLs and owns the pending
// authorization record.
type Builder struct {
	cfg    Config
	client *oauth.Client
	store  credstore.Store
	clock  credstore.Clock
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config, client *oauth.Client, store credstore.Store, opts ...Option) *Builder {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = oauth.DefaultHTTPTimeout
	}
	if client == nil {
		client = oauth.NewClient()
	}
	b := &Builder{
		cfg:    cfg,
		client: client,
		store:  store,
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the builder's configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Endpoints returns the authorization server endpoints. Explicitly
// configured endpoints take precedence over discovered ones; discovery is
// skipped when both the authorization and token endpoints are configured.
func (b *Builder) Endpoints(ctx context.Context) (*oauth.Metadata, error) {
	md := &oauth.Metadata{
		Issuer:                oauth.NormalizeIssuerURL(b.cfg.Issuer),
		AuthorizationEndpoint: b.cfg.AuthorizationEndpoint,
		TokenEndpoint:         b.cfg.TokenEndpoint,
		EndSessionEndpoint:    b.cfg.EndSessionEndpoint,
	}
	if md.AuthorizationEndpoint != "" && md.TokenEndpoint != "" {
		return md, nil
	}

	discovered, err := b.client.DiscoverMetadata(ctx, b.cfg.Issuer)
	if err != nil {
		return nil, err
	}

	merged := *discovered
	if md.AuthorizationEndpoint != "" {
		merged.AuthorizationEndpoint = md.AuthorizationEndpoint
	}
	if md.TokenEndpoint != "" {
		merged.TokenEndpoint = md.TokenEndpoint
	}
	if md.EndSessionEndpoint != "" {
		merged.EndSessionEndpoint = md.EndSessionEndpoint
	}
	return &merged, nil
}

// NoteTokenFailure drops cached discovery results when a token request
// failed without a protocol answer (unreachable host, 404), so the next
// Endpoints call discovers them again. OAuth error responses keep the cache.
func (b *Builder) NoteTokenFailure(err error) {
	if err == nil {
		return
	}
	var te *oauth.TokenError
	if errors.As(err, &te) && te.StatusCode != http.StatusNotFound {
		return
	}
	logging.Debug("AuthFlow", "Forgetting discovered endpoints after token request failure: %v", err)
	b.client.ClearMetadataCache()
}

// BuildLoginURL starts a new login. It replaces any pending authorization
// with a fresh one bound to redirectURI and returnPath, and returns the
// authorize URL.
func (b *Builder) BuildLoginURL(ctx context.Context, redirectURI, returnPath string) (string, error) {
	if redirectURI == "" {
		return "", fmt.Errorf("redirect URI is required")
	}

	md, err := b.Endpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve authorization endpoints: %w", err)
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}

	pending := &PendingAuthorization{
		FlowID:      uuid.NewString(),
		State:       state,
		ReturnPath:  SanitizeReturnPath(returnPath),
		RedirectURI: redirectURI,
		CreatedAt:   b.clock.Now(),
	}

	var authOpts []oauth2.AuthCodeOption
	if b.cfg.UsePKCE {
		if !md.SupportsPKCE() {
			logging.Warn("AuthFlow", "Authorization server does not advertise S256 PKCE, sending challenge anyway")
		}
		pkce := oauth.GeneratePKCE()
		pending.CodeVerifier = pkce.CodeVerifier
		authOpts = append(authOpts, oauth2.S256ChallengeOption(pkce.CodeVerifier))
	}

	if err := b.store.SavePending(pending); err != nil {
		return "", fmt.Errorf("failed to persist pending authorization: %w", err)
	}

	conf := b.oauth2Config(md, redirectURI)
	authURL := conf.AuthCodeURL(state, authOpts...)

	logging.Audit(logging.AuditEvent{
		Action:  "login_started",
		Outcome: "success",
		FlowID:  pending.FlowID,
		Issuer:  md.Issuer,
	})
	return authURL, nil
}

// BuildLogoutURL returns the end-session URL. idTokenHint is included when
// non-empty. Pending authorization state is left untouched.
func (b *Builder) BuildLogoutURL(ctx context.Context, postLogoutURI, idTokenHint string) (string, error) {
	endpoint := b.cfg.EndSessionEndpoint
	if endpoint == "" {
		md, err := b.Endpoints(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve end session endpoint: %w", err)
		}
		endpoint = md.EndSessionEndpoint
	}
	if endpoint == "" {
		return "", fmt.Errorf("authorization server has no end_session_endpoint")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end session endpoint: %w", err)
	}

	q := u.Query()
	q.Set("client_id", b.cfg.ClientID)
	if postLogoutURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutURI)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Builder) oauth2Config(md *oauth.Metadata, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: b.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      b.cfg.Scopes,
	}
}
