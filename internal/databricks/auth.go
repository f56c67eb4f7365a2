package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// AuthProvider supplies a bearer token for workspace API calls.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken authenticates with a personal access token.
type StaticToken struct {
	token string
}

// NewStaticToken wraps a personal access token.
func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: strings.TrimSpace(token)}
}

// Token returns the configured token.
func (s *StaticToken) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("missing personal access token: %w", ErrAuth)
	}
	return s.token, nil
}

// OAuthM2M authenticates with OAuth 2.0 client credentials against the
// workspace token endpoint, the flow Databricks Apps provision for a
// service principal. Tokens are cached until shortly before expiry.
type OAuthM2M struct {
	host         string
	clientID     string
	clientSecret string
	client       *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewOAuthM2M creates a client-credentials auth provider for host.
func NewOAuthM2M(host, clientID, clientSecret string, httpClient *http.Client) *OAuthM2M {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &OAuthM2M{
		host:         normalizeHost(host),
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		client:       httpClient,
	}
}

// Token returns a cached token, refreshing when less than two minutes of
// validity remain.
func (o *OAuthM2M) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	cached, exp := o.token, o.expiresAt
	o.mu.Unlock()
	if cached != "" && time.Until(exp) > 2*time.Minute {
		return cached, nil
	}

	if o.clientID == "" || o.clientSecret == "" {
		return "", fmt.Errorf("missing oauth client credentials: %w", ErrAuth)
	}

	var token string
	var expiresAt time.Time
	err := withRetry(3, 300*time.Millisecond, func() (bool, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("scope", "all-apis")
		endpoint := o.host + "/oidc/v1/token"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(o.clientID, o.clientSecret)
		resp, err := o.client.Do(req)
		if err != nil {
			return ctx.Err() == nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return false, fmt.Errorf("token endpoint status %d: %w", resp.StatusCode, ErrAuth)
		}
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
			Error       string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if strings.TrimSpace(out.AccessToken) == "" {
			retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
			if out.Error == "" {
				out.Error = "token response missing access_token"
			}
			return retryable, errors.New(out.Error)
		}
		token = out.AccessToken
		expiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		return false, nil
	})
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.token = token
	o.expiresAt = expiresAt
	o.mu.Unlock()
	return token, nil
}

// withRetry runs fn up to attempts times with a fixed delay between tries.
// fn returns (retryable, err); a nil err stops immediately.
func withRetry(attempts int, delay time.Duration, fn func() (bool, error)) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return lastErr
}
