// Package client is a small HTTP client for a running foresight server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/lazypower/foresight/internal/models"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 5 * time.Second
)

// URLEnvVar overrides the server address.
const URLEnvVar = "FORESIGHT_URL"

// StatusError is returned for any response with status >= 400.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Client talks to the foresight server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL falls back to
// $FORESIGHT_URL, then http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv(URLEnvVar)
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// WithHTTPClient swaps the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// RecordAccess posts one access event.
func (c *Client) RecordAccess(ctx context.Context, ev models.AccessEvent) error {
	return c.do(ctx, http.MethodPost, "/api/access", ev, nil)
}

// Predict asks the server to rank userID's content for frame.
func (c *Client) Predict(ctx context.Context, userID string, frame models.ContextFrame, maxResults int) ([]models.PredictionResult, error) {
	var out struct {
		Results []models.PredictionResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/api/predict", map[string]any{
		"user_id":     userID,
		"context":     frame,
		"max_results": maxResults,
	}, &out)
	return out.Results, err
}

// SetContext reports the current context of one device.
func (c *Client) SetContext(ctx context.Context, userID, deviceID string, frame models.ContextFrame) error {
	path := "/api/context/" + url.PathEscape(userID) + "/" + url.PathEscape(deviceID)
	return c.do(ctx, http.MethodPut, path, frame, nil)
}
