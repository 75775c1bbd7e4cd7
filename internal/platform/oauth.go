package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// defaultTokenDuration is used when the platform doesn't return an expiry time.
	defaultTokenDuration = 60 * time.Minute

	// tokenExpiryBuffer is the time before expiry to trigger a refresh.
	tokenExpiryBuffer = 5 * time.Minute
)

// ErrNoRefreshToken is returned by a TokenStore when a creator has not been authorized yet.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// TokenStore provides access to per-creator OAuth refresh tokens.
type TokenStore interface {
	// RefreshToken returns the current refresh token for a creator.
	RefreshToken(ctx context.Context, creatorID string) (string, error)

	// SaveRefreshToken saves a new refresh token for a creator.
	SaveRefreshToken(ctx context.Context, creatorID string, token string) error
}

// OAuthConfig holds the platform OAuth client settings.
type OAuthConfig struct {
	// AuthURL is the platform's authorization endpoint.
	AuthURL string

	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret.
	ClientSecret string

	// HTTPClient is used for token requests. Optional.
	HTTPClient *http.Client

	// TokenURL is the platform's token endpoint.
	TokenURL string
}

// Token is an OAuth token response.
//
//nolint:tagliatelle // External API uses snake_case.
type Token struct {
	// AccessToken is the OAuth access token.
	AccessToken string `json:"access_token"`

	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is the token used to obtain new access tokens.
	RefreshToken string `json:"refresh_token"`

	// TokenType is the token type, normally "Bearer".
	TokenType string `json:"token_type"`
}

// oauthErrorResponse represents an OAuth error from the token endpoint.
//
//nolint:tagliatelle // External API uses snake_case.
type oauthErrorResponse struct {
	Description string `json:"error_description"`
	Error       string `json:"error"`
}

// TokenManager hands out access tokens per creator, refreshing and caching them.
type TokenManager struct {
	// cfg holds the OAuth client settings.
	cfg OAuthConfig

	// mu protects tokens.
	mu sync.Mutex

	// tokenStore provides access to refresh tokens.
	tokenStore TokenStore

	// tokens holds one cached access token per creator.
	tokens map[string]*cachedToken
}

// cachedToken is the access token state of a single creator.
type cachedToken struct {
	// accessToken is the current cached access token.
	accessToken string

	// expiresAt is when the current access token expires.
	expiresAt time.Time

	// mu protects access token state.
	mu sync.RWMutex
}

// NewTokenManager creates a token manager for the platform OAuth client.
func NewTokenManager(cfg OAuthConfig, tokenStore TokenStore) (*TokenManager, error) {
	var errs []error
	if cfg.ClientID == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	if cfg.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	if cfg.TokenURL == "" {
		errs = append(errs, errors.New("token URL is required"))
	}
	if tokenStore == nil {
		errs = append(errs, errors.New("token store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &TokenManager{
		cfg:        cfg,
		tokenStore: tokenStore,
		tokens:     make(map[string]*cachedToken),
	}, nil
}

// AccessToken returns a valid access token for the creator, refreshing if necessary.
func (tm *TokenManager) AccessToken(ctx context.Context, creatorID string) (string, error) {
	entry := tm.entry(creatorID)
	if token, ok := entry.cached(); ok {
		return token, nil
	}
	return tm.refreshAccessToken(ctx, creatorID, entry)
}

// AuthorizationURL builds the URL a creator visits to grant access.
func (tm *TokenManager) AuthorizationURL(redirectURI string, state string) string {
	params := url.Values{}
	params.Set("client_id", tm.cfg.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)

	return tm.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for tokens.
func (tm *TokenManager) ExchangeCode(ctx context.Context, code string, redirectURI string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", tm.cfg.ClientID)
	data.Set("client_secret", tm.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", redirectURI)

	return tm.requestToken(ctx, data)
}

// Invalidate drops the cached access token of a creator, forcing a refresh on next use.
func (tm *TokenManager) Invalidate(creatorID string) {
	entry := tm.entry(creatorID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.accessToken = ""
	entry.expiresAt = time.Time{}
}

// entry returns the cache entry of a creator, creating it on first use.
func (tm *TokenManager) entry(creatorID string) *cachedToken {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	entry, ok := tm.tokens[creatorID]
	if !ok {
		entry = &cachedToken{}
		tm.tokens[creatorID] = entry
	}
	return entry
}

// refreshAccessToken fetches a new access token using the creator's refresh token.
func (tm *TokenManager) refreshAccessToken(ctx context.Context, creatorID string, entry *cachedToken) (string, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Double-check after acquiring write lock.
	if entry.isValid() {
		return entry.accessToken, nil
	}

	refreshToken, err := tm.tokenStore.RefreshToken(ctx, creatorID)
	if err != nil {
		return "", fmt.Errorf("getting refresh token: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", tm.cfg.ClientID)
	data.Set("client_secret", tm.cfg.ClientSecret)

	tokenResp, err := tm.requestToken(ctx, data)
	if err != nil {
		return "", err
	}

	// Save new refresh token if rotated.
	if tokenResp.RefreshToken != "" && tokenResp.RefreshToken != refreshToken {
		if err := tm.tokenStore.SaveRefreshToken(ctx, creatorID, tokenResp.RefreshToken); err != nil {
			return "", fmt.Errorf("saving refresh token: %w", err)
		}
	}

	entry.accessToken = tokenResp.AccessToken
	if tokenResp.ExpiresIn > 0 {
		entry.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else {
		entry.expiresAt = time.Now().Add(defaultTokenDuration)
	}

	return entry.accessToken, nil
}

// requestToken posts a form to the token endpoint.
func (tm *TokenManager) requestToken(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var errResp oauthErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("token request failed with status %d: %s: %s",
				resp.StatusCode, errResp.Error, errResp.Description)
		}
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}

	return &token, nil
}

// cached returns the access token if valid, or false if refresh is needed.
func (c *cachedToken) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isValid() {
		return c.accessToken, true
	}
	return "", false
}

// isValid checks if the access token is set and not near expiry.
// Must be called with at least a read lock held.
func (c *cachedToken) isValid() bool {
	return c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-tokenExpiryBuffer))
}
