package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout bounds every token endpoint and discovery request.
	DefaultHTTPTimeout = 15 * time.Second

	// DefaultMetadataCacheTTL is how long discovered metadata is reused.
	DefaultMetadataCacheTTL = 30 * time.Minute

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client performs the OAuth protocol calls warden needs: metadata discovery,
// the authorization_code grant and the refresh_token grant.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// metadataGroup deduplicates concurrent fetches for the same issuer.
	metadataGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DiscoverMetadata fetches the issuer's metadata. It tries RFC 8414
// (/.well-known/oauth-authorization-server) first, then OpenID Connect
// discovery (/.well-known/openid-configuration).
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = NormalizeIssuerURL(issuer)
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required for metadata discovery")
	}

	if md := c.cachedMetadata(issuer); md != nil {
		return md, nil
	}

	ch := c.metadataGroup.DoChan(issuer, func() (interface{}, error) {
		if md := c.cachedMetadata(issuer); md != nil {
			return md, nil
		}
		// The fetch is shared, so it must outlive a cancelled first caller.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultHTTPTimeout)
		defer cancel()
		return c.doDiscoverMetadata(fetchCtx, issuer)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Metadata), nil
	}
}

func (c *Client) cachedMetadata(issuer string) *Metadata {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	if entry, ok := c.metadataCache[issuer]; ok && time.Since(entry.fetchedAt) < c.metadataTTL {
		return entry.metadata
	}
	return nil
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	metadata, err := c.fetchMetadata(ctx, issuer+"/.well-known/oauth-authorization-server")
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	c.logger.Debug("RFC 8414 metadata fetch failed, trying OIDC",
		"issuer", issuer,
		"error", err)

	metadata, err = c.fetchMetadata(ctx, issuer+"/.well-known/openid-configuration")
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, err)
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata at %s is missing authorization or token endpoint", metadataURL)
	}

	return &metadata, nil
}

func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached OAuth metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)
}

// ClearMetadataCache drops all cached metadata.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

// ExchangeCode exchanges an authorization code for tokens. codeVerifier is
// omitted from the request when empty.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier string) (*Token, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
		"client_id":    {clientID},
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// RefreshToken obtains a new access token using a refresh token.
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// doTokenRequest performs a token endpoint request. Non-2xx responses are
// returned as *TokenError.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tokenErr := parseTokenError(resp.StatusCode, body)
		c.logger.Debug("Token request failed",
			"grant_type", data.Get("grant_type"),
			"status", resp.StatusCode,
			"error", tokenErr.Code)
		return nil, tokenErr
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response is missing access_token")
	}

	return &token, nil
}
