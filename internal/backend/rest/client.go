// Package rest wraps the hosted relational gateway under <project>/rest/v1.
// Tables are consumed schema, not owned: the client builds filter expressions
// the gateway understands and decodes row payloads, nothing more.
package rest

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

// ErrConflict marks unique-constraint violations reported by the gateway.
// The backend constraint, not any client-side pre-check, is the source of
// truth for uniqueness races.
var ErrConflict = errors.New("conflict")

// uniqueViolationCode is the SQL state the gateway forwards for duplicates.
const uniqueViolationCode = "23505"

// Config captures the runtime settings required to talk to the gateway.
type Config struct {
	ProjectURL     string
	AnonKey        string
	TimeoutSeconds int
}

// Client issues row reads and writes against the relational gateway.
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

// New constructs a gateway client from the supplied configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.ProjectURL)
	if base == "" {
		return nil, errors.New("rest: project url is required")
	}
	anonKey := strings.TrimSpace(cfg.AnonKey)
	if anonKey == "" {
		return nil, errors.New("rest: anon key is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("rest: parse project url: %w", err)
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

// From starts a query against the named table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

// Insert writes rows into the named table. When dest is non-nil the inserted
// representation is requested back and decoded into it.
func (c *Client) Insert(ctx context.Context, accessToken, table string, rows, dest any) error {
	encoded, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("rest: encode insert: %w", err)
	}
	headers := http.Header{}
	if dest != nil {
		headers.Set("Prefer", "return=representation")
	} else {
		headers.Set("Prefer", "return=minimal")
	}
	return c.do(ctx, http.MethodPost, table, nil, accessToken, bytes.NewReader(encoded), headers, dest)
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, accessToken string, body io.Reader, headers http.Header, dest any) error {
	target := c.baseURL.JoinPath("rest", "v1", table)
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	token := strings.TrimSpace(accessToken)
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("rest: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(snippet, &detail)
	message := strings.TrimSpace(detail.Message)
	if message == "" {
		message = strings.TrimSpace(string(snippet))
	}
	if detail.Code == uniqueViolationCode || resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrConflict, message)
	}
	return fmt.Errorf("rest: gateway returned %s: %s", resp.Status, message)
}
