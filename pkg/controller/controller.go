package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds one controller request
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx answer from the engine controller
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Client talks to the REST controller of a running engine
type Client struct {
	http *http.Client
}

// New returns a client with the given request timeout
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			// the controller is local, never go through an environment proxy
			Transport: &http.Transport{Proxy: nil},
		},
	}
}

type reloadRequest struct {
	Path string `json:"path"`
}

// Reload asks the engine at baseURL to re-read the config file at configPath.
// The engine keeps its listeners and replaces proxies, groups and rules.
func (c *Client) Reload(ctx context.Context, baseURL, configPath string) error {
	body, err := json.Marshal(reloadRequest{Path: configPath})
	if err != nil {
		return err
	}
	endpoint, err := joinURL(baseURL, "/configs", url.Values{"force": {"true"}})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

type versionResponse struct {
	Version string `json:"version"`
	Premium bool   `json:"premium"`
}

// Version returns the version reported by the engine
func (c *Client) Version(ctx context.Context, baseURL string) (string, error) {
	endpoint, err := joinURL(baseURL, "/version", nil)
	if err != nil {
		return "", err
	}
	var resp versionResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method: method,
			URL:    endpoint,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", method, endpoint, err)
		}
	}
	return nil
}

func joinURL(baseURL, path string, query url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid controller url %q: %w", baseURL, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
