// Package storage wraps the hosted object storage API: write-once uploads
// under caller-generated keys and public-URL reads. Buckets are managed
// server-side; the client never creates or configures them.
package storage

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

const defaultHTTPTimeout = 60 * time.Second

// ErrKeyExists marks uploads rejected because the object key is taken.
var ErrKeyExists = errors.New("object key already exists")

// Config captures the runtime settings required to talk to object storage.
type Config struct {
	ProjectURL     string
	AnonKey        string
	TimeoutSeconds int
}

// Client issues bucket operations under <project>/storage/v1.
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

// New constructs a storage client from the supplied configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.ProjectURL)
	if base == "" {
		return nil, errors.New("storage: project url is required")
	}
	anonKey := strings.TrimSpace(cfg.AnonKey)
	if anonKey == "" {
		return nil, errors.New("storage: anon key is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("storage: parse project url: %w", err)
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

// Upload writes an object under the given key. Keys are write-once: a
// duplicate key fails with ErrKeyExists rather than overwriting.
func (c *Client) Upload(ctx context.Context, accessToken, bucket, key, contentType string, body io.Reader) error {
	target := c.baseURL.JoinPath("storage", "v1", "object", bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return fmt.Errorf("storage: build upload request: %w", err)
	}
	c.applyHeaders(req, accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s/%s", ErrKeyExists, bucket, key)
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage: upload %s/%s failed (%s): %s", bucket, key, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// PublicURL computes the public read URL for an object. No round trip is made;
// buckets are publicly readable by project policy.
func (c *Client) PublicURL(bucket, key string) string {
	return c.baseURL.JoinPath("storage", "v1", "object", "public", bucket, key).String()
}

// Remove deletes the named objects from a bucket. Used only by compensation
// paths; regular operation never deletes storage objects.
func (c *Client) Remove(ctx context.Context, accessToken, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"prefixes": keys})
	if err != nil {
		return fmt.Errorf("storage: encode remove request: %w", err)
	}
	target := c.baseURL.JoinPath("storage", "v1", "object", bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("storage: build remove request: %w", err)
	}
	c.applyHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage: remove from %s: %w", bucket, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage: remove from %s failed (%s): %s", bucket, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.anonKey)
	token := strings.TrimSpace(accessToken)
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
