// Package upstream is the HTTP facade over the ScrapeTok backend services.
// One configured client exists per logical service key; every outgoing
// request carries the caller's bearer token and, for services that want
// request-scoped identity without a full auth scheme, x-user-id and
// x-user-role headers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"scrapetok/internal/config"
)

// ServiceKey names a logical backend service.
type ServiceKey string

const (
	Accounts     ServiceKey = "accounts"
	Content      ServiceKey = "content"
	Dashboard    ServiceKey = "dashboard"
	Orchestrator ServiceKey = "orchestrator"
	Analytics    ServiceKey = "analytics"
	Legacy       ServiceKey = "legacy"
)

// Identity is the per-call identity attached to upstream requests.
type Identity struct {
	Bearer string
	UserID string
	Role   string
}

// Error is a non-2xx upstream response with a best-effort extraction of the
// backend-provided message.
type Error struct {
	Service ServiceKey
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s service: HTTP %d: %s", e.Service, e.Status, e.Message)
}

// Registry hands out one cached client per service key.
type Registry struct {
	mu      sync.Mutex
	cfg     config.Config
	httpc   *http.Client
	clients map[ServiceKey]*Client
}

func NewRegistry(cfg config.Config) *Registry {
	return &Registry{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.UpstreamTimeout()},
		clients: map[ServiceKey]*Client{},
	}
}

// Get returns the client for a service key, creating it on first use.
// Unknown keys fall back to the legacy service.
func (r *Registry) Get(key ServiceKey) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, ok := r.baseURL(key)
	if !ok {
		key = Legacy
		base = r.cfg.Services.Legacy
	}
	if c, ok := r.clients[key]; ok {
		return c
	}
	c := &Client{service: key, baseURL: strings.TrimRight(base, "/"), httpc: r.httpc}
	r.clients[key] = c
	return c
}

func (r *Registry) baseURL(key ServiceKey) (string, bool) {
	switch key {
	case Accounts:
		return r.cfg.Services.Accounts, true
	case Content:
		return r.cfg.Services.Content, true
	case Dashboard:
		return r.cfg.Services.Dashboard, true
	case Orchestrator:
		return r.cfg.Services.Orchestrator, true
	case Analytics:
		return r.cfg.Services.Analytics, true
	case Legacy:
		return r.cfg.Services.Legacy, true
	default:
		return "", false
	}
}

// Probe reports whether the service answers HTTP at all. Any response,
// including an error status, counts as reachable.
func (r *Registry) Probe(ctx context.Context, key ServiceKey) error {
	c := r.Get(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Client issues JSON requests against one backend service.
type Client struct {
	service ServiceKey
	baseURL string
	httpc   *http.Client
}

func (c *Client) Service() ServiceKey { return c.service }

func (c *Client) Get(ctx context.Context, path string, id Identity, out any) error {
	return c.do(ctx, http.MethodGet, path, id, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, id Identity, body, out any) error {
	return c.do(ctx, http.MethodPost, path, id, body, out)
}

func (c *Client) Put(ctx context.Context, path string, id Identity, body, out any) error {
	return c.do(ctx, http.MethodPut, path, id, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, id Identity, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, id, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, id Identity, out any) error {
	return c.do(ctx, http.MethodDelete, path, id, nil, out)
}

// do performs one request. Errors are not retried and no timeout beyond the
// shared client's applies; the caller's context is the only cancellation.
func (c *Client) do(ctx context.Context, method, path string, id Identity, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s service: encode request: %w", c.service, err)
		}
		reader = bytes.NewReader(raw)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s service: %w", c.service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+id.Bearer)
	}
	if id.UserID != "" {
		req.Header.Set("x-user-id", id.UserID)
	}
	if id.Role != "" {
		req.Header.Set("x-user-role", id.Role)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s service: %w", c.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Service: c.service, Status: resp.StatusCode, Message: extractMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s service: decode response: %w", c.service, err)
	}
	return nil
}

// extractMessage pulls a human-readable message out of an error body. The
// backends are not consistent about the field name.
func extractMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return "request failed"
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, field := range []string{"message", "error", "detail"} {
			if v, ok := payload[field].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

// ProbeTimeout is a helper for health checks that should not hang on a dead
// upstream.
func ProbeTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
