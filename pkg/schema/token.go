// Package schema implements the storage provisioning pipeline: declarative
// spec rendering, dry-run validation, retried execution, and verification
// against the remote query service.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weldcode/weld/pkg/failure"
)

// expiryBuffer is how long before expiry a token is refreshed. Requests
// issued right at the boundary must not race token death mid-flight.
const expiryBuffer = 2 * time.Minute

// TokenProvider yields a bearer token for query service requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a fixed, non-expiring token.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// TokenConfig holds OAuth refresh-token exchange settings.
type TokenConfig struct {
	// TokenURL is the OAuth token endpoint.
	TokenURL string

	// ClientID identifies this service to the token endpoint.
	ClientID string

	// ClientSecret authenticates the client.
	ClientSecret string

	// RefreshToken is the long-lived refresh token.
	RefreshToken string
}

// TokenSource refreshes bearer tokens via OAuth refresh-token exchange.
// When a refresh fails and a previous token is still held, the old token
// is returned instead: a possibly-stale token beats a guaranteed failure.
type TokenSource struct {
	config TokenConfig
	http   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a refreshing token source.
func NewTokenSource(cfg TokenConfig) (*TokenSource, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	return &TokenSource{
		config: cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Token returns a bearer token, refreshing when the cached one is inside
// the expiry buffer.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt.Add(-expiryBuffer)) {
		return t.token, nil
	}

	token, expiresAt, err := t.refresh(ctx)
	if err != nil {
		if t.token != "" {
			log.Warn().Err(err).Msg("token refresh failed, using cached token")
			return t.token, nil
		}
		return "", err
	}

	t.token = token
	t.expiresAt = expiresAt
	return t.token, nil
}

func (t *TokenSource) refresh(ctx context.Context) (string, time.Time, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {t.config.RefreshToken},
	}
	if t.config.ClientID != "" {
		form.Set("client_id", t.config.ClientID)
	}
	if t.config.ClientSecret != "" {
		form.Set("client_secret", t.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", time.Time{}, failure.New(failure.KindConnectionFailed, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, failure.New(failure.KindConnectionFailed, "failed to read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, failure.ClassifyHTTP(resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token response missing access_token")
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return payload.AccessToken, time.Now().Add(time.Duration(expiresIn) * time.Second), nil
}
