// Package api is the HTTP transport to the pulse backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fakeyudi/pulse/internal/pulse"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// ErrRejected is returned when the backend answers success:false.
var ErrRejected = errors.New("backend rejected batch")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Envelope is the request body for one batch.
type Envelope struct {
	Data     []pulse.Entry `json:"data"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
	Timezone string        `json:"timezone"`
}

// NewEnvelope wraps data with a window of the 24 hours before now.
func NewEnvelope(data []pulse.Entry, now time.Time, timezone string) Envelope {
	return Envelope{
		Data:     data,
		Start:    now.Add(-24 * time.Hour).UTC().Format(time.RFC3339Nano),
		End:      now.UTC().Format(time.RFC3339Nano),
		Timezone: timezone,
	}
}

// Response is the backend's answer.
type Response struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	SyncedCount *int   `json:"syncedCount,omitempty"`
}

// Client posts envelopes to URL.
type Client struct {
	URL     string
	HTTP    *http.Client
	Timeout time.Duration
}

// NewClient returns a Client for url with the default timeout.
func NewClient(url string) *Client {
	return &Client{URL: url, HTTP: http.DefaultClient, Timeout: DefaultTimeout}
}

// Send posts env with a bearer credential. Any non-2xx status, non-JSON
// body, success:false or timeout is an error.
func (c *Client) Send(ctx context.Context, credential string, env Envelope) (*Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending batch: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if !out.Success {
		if out.Message != "" {
			return &out, fmt.Errorf("%w: %s", ErrRejected, out.Message)
		}
		return &out, ErrRejected
	}
	return &out, nil
}
