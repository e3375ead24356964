// Package client talks to a running loqa-signd over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/protocol"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

type Client struct {
	base       string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("daemon url must be absolute: %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		base:       strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL is the daemon address without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// Resolve turns a daemon-relative path such as the video feed into a URL.
func (c *Client) Resolve(path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	return c.base + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) Snapshot(ctx context.Context) (protocol.Snapshot, error) {
	var snap protocol.Snapshot
	_, err := c.do(ctx, http.MethodGet, "/api/sentence", &snap)
	return snap, err
}

// Edit applies "space", "backspace" or "clear".
func (c *Client) Edit(ctx context.Context, op string) (protocol.Snapshot, error) {
	var snap protocol.Snapshot
	_, err := c.do(ctx, http.MethodPost, "/api/sentence/"+url.PathEscape(op), &snap)
	return snap, err
}

// Speak asks the daemon to read the sentence. started is false when there
// was nothing to speak.
func (c *Client) Speak(ctx context.Context) (snap protocol.Snapshot, started bool, err error) {
	status, err := c.do(ctx, http.MethodPost, "/api/speak", &snap)
	return snap, status == http.StatusAccepted, err
}

func (c *Client) History(ctx context.Context, limit int) ([]eventstore.Event, error) {
	var events []eventstore.Event
	_, err := c.do(ctx, http.MethodGet, "/api/history?limit="+strconv.Itoa(limit), &events)
	return events, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
