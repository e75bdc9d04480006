// Package client calls a running querydesk server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/orchestrator"
	"github.com/dusk-indust/querydesk/internal/server"
	"github.com/dusk-indust/querydesk/internal/sse"
)

// Client talks to the HTTP API served by package server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout. Queries can run for minutes, so
// the default is no timeout beyond the context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthStatus is the GET /health body.
type HealthStatus struct {
	Status string `json:"status"`
	server.Health
}

// errorBody mirrors the server's failure payload.
type errorBody struct {
	Error string             `json:"error"`
	Kind  string             `json:"kind"`
	Hint  string             `json:"hint"`
	Meta  *orchestrator.Meta `json:"meta"`
}

// Query answers q with POST /query. A failure reported by the server is
// returned as a *fault.Error of the same kind, together with a Response
// carrying the server's meta when it sent one.
func (c *Client) Query(ctx context.Context, q orchestrator.Query) (*orchestrator.Response, error) {
	resp, err := c.post(ctx, "/query", q, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp)
	}
	var out orchestrator.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return &out, nil
}

// Stream answers q with POST /query/stream, calling onProgress for each
// progress event as it arrives. onProgress may be nil.
func (c *Client) Stream(ctx context.Context, q orchestrator.Query, onProgress func(orchestrator.ProgressEvent)) (*orchestrator.Response, error) {
	resp, err := c.post(ctx, "/query/stream", q, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return decodeFailure(resp)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for ev := range sse.ReadEvents(ctx, resp.Body) {
		switch ev.Name {
		case server.EventProgress:
			var p orchestrator.ProgressEvent
			if err := ev.Decode(&p); err != nil {
				return nil, fmt.Errorf("client: %w", err)
			}
			if onProgress != nil {
				onProgress(p)
			}
		case server.EventResult:
			var out orchestrator.Response
			if err := ev.Decode(&out); err != nil {
				return nil, fmt.Errorf("client: %w", err)
			}
			return &out, nil
		case server.EventError:
			var body errorBody
			if err := ev.Decode(&body); err != nil {
				return nil, fmt.Errorf("client: %w", err)
			}
			return body.response(), body.fault()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("client: stream: %w", err)
	}
	return nil, fault.New(fault.Unavailable, "client.stream", "stream ended without a result")
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "client.health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("client: health: HTTP %d: %s", resp.StatusCode, string(body))
	}
	var h HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("client: decode health: %w", err)
	}
	return &h, nil
}

func (c *Client) post(ctx context.Context, path string, q orchestrator.Query, accept string) (*http.Response, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("client: marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "client"+strings.ReplaceAll(path, "/", "."), err)
	}
	return resp, nil
}

// decodeFailure turns a non-200 response into a classified error.
func decodeFailure(resp *http.Response) (*orchestrator.Response, error) {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Kind == "" {
		return nil, &fault.Error{
			Kind: fault.Internal,
			Op:   "client.query",
			Msg:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}
	return body.response(), body.fault()
}

func (b errorBody) response() *orchestrator.Response {
	if b.Meta == nil {
		return nil
	}
	return &orchestrator.Response{Meta: *b.Meta}
}

func (b errorBody) fault() error {
	return &fault.Error{Kind: fault.ParseKind(b.Kind), Op: "server", Msg: b.Error}
}
