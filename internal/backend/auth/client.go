// Package auth wraps the hosted identity provider's HTTP API. The provider
// owns credentials, token issuance, and refresh; this client only shuttles
// requests and maps provider failures onto the client error taxonomy.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrInvalidCredentials marks sign-in rejections from the provider.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrSessionExpired marks refresh attempts the provider no longer honours.
var ErrSessionExpired = errors.New("session expired")

// User identifies an authenticated account.
type User struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"user_metadata"`
}

// Session is the opaque credential bundle issued by the provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Config captures the runtime settings required to talk to the provider.
type Config struct {
	ProjectURL     string
	AnonKey        string
	TimeoutSeconds int
}

// Client wraps the identity provider endpoints under <project>/auth/v1.
type Client struct {
	baseURL *url.URL
	anonKey string
	http    *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// New constructs an identity client from the supplied configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.ProjectURL)
	if base == "" {
		return nil, errors.New("auth: project url is required")
	}
	anonKey := strings.TrimSpace(cfg.AnonKey)
	if anonKey == "" {
		return nil, errors.New("auth: anon key is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("auth: parse project url: %w", err)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		baseURL: baseURL,
		anonKey: anonKey,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SignUp registers a new identity and returns its initial session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var payload sessionPayload
	if err := c.do(ctx, http.MethodPost, "signup", "", body, &payload); err != nil {
		return nil, fmt.Errorf("auth: sign up: %w", err)
	}
	return payload.session(), nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var payload sessionPayload
	if err := c.do(ctx, http.MethodPost, "token?grant_type=password", "", body, &payload); err != nil {
		return nil, fmt.Errorf("auth: sign in: %w", err)
	}
	return payload.session(), nil
}

// RefreshSession exchanges a refresh token for a fresh session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var payload sessionPayload
	if err := c.do(ctx, http.MethodPost, "token?grant_type=refresh_token", "", body, &payload); err != nil {
		return nil, fmt.Errorf("auth: refresh session: %w", err)
	}
	return payload.session(), nil
}

// SignOut revokes the supplied access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if err := c.do(ctx, http.MethodPost, "logout", accessToken, nil, nil); err != nil {
		return fmt.Errorf("auth: sign out: %w", err)
	}
	return nil
}

// UpdatePassword sets a new password for the authenticated user.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	body := map[string]string{"password": newPassword}
	if err := c.do(ctx, http.MethodPut, "user", accessToken, body, nil); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, accessToken string, body, out any) error {
	target := c.baseURL.JoinPath("auth", "v1")
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		target = target.JoinPath(endpoint[:i])
		target.RawQuery = endpoint[i+1:]
	} else {
		target = target.JoinPath(endpoint)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := accessToken
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var detail struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		Message     string `json:"msg"`
	}
	_ = json.Unmarshal(snippet, &detail)
	message := strings.TrimSpace(detail.Description)
	if message == "" {
		message = strings.TrimSpace(detail.Message)
	}
	if message == "" {
		message = strings.TrimSpace(string(snippet))
	}

	switch {
	case detail.Error == "invalid_grant",
		resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "invalid login credentials"):
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, message)
	case resp.StatusCode == http.StatusUnauthorized && strings.Contains(strings.ToLower(message), "refresh"):
		return fmt.Errorf("%w: %s", ErrSessionExpired, message)
	}
	return fmt.Errorf("provider returned %s: %s", resp.Status, message)
}

type sessionPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID       string         `json:"id"`
		Email    string         `json:"email"`
		Metadata map[string]any `json:"user_metadata"`
	} `json:"user"`
}

func (p sessionPayload) session() *Session {
	expires := time.Unix(p.ExpiresAt, 0)
	if p.ExpiresAt == 0 && p.ExpiresIn > 0 {
		expires = time.Now().Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	metadata := make(map[string]string, len(p.User.Metadata))
	for key, value := range p.User.Metadata {
		if s, ok := value.(string); ok {
			metadata[key] = s
		}
	}
	return &Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expires,
		User: User{
			ID:       p.User.ID,
			Email:    p.User.Email,
			Metadata: metadata,
		},
	}
}
