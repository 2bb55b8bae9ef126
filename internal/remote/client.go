package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/category"
)

// ErrorBody is the JSON error envelope the server writes for every non-2xx
// response.
type ErrorBody struct {
	Error struct {
		Code    apperr.Code       `json:"code"`
		Message string            `json:"message"`
		Field   string            `json:"field,omitempty"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// Client talks to a shiftsync server over HTTP.
//
// Network errors, 5xx, 401, 403, 408 and 429 come back as CodeSyncTransient
// so the queue retries them. Other 4xx responses carry the server's error
// code, which the syncer treats as permanent.
type Client struct {
	base   string
	token  string
	http   *http.Client
	ping   time.Duration
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithPingTimeout bounds the connectivity probe.
func WithPingTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.ping = d }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the server at baseURL authenticating with
// a bearer token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		ping:   2 * time.Second,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches an entity. A 404 means it does not exist.
func (c *Client) Get(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	body, status, err := c.do(ctx, http.MethodGet, entityPath(entityType, id), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err := statusError("get "+entityType, status, body); err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Put writes an entity and returns it as the server stored it.
func (c *Client) Put(ctx context.Context, entityType, id string, data json.RawMessage) (json.RawMessage, error) {
	body, status, err := c.do(ctx, http.MethodPut, entityPath(entityType, id), data)
	if err != nil {
		return nil, err
	}
	if err := statusError("put "+entityType, status, body); err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Delete removes an entity. A 404 counts as success.
func (c *Client) Delete(ctx context.Context, entityType, id string) error {
	body, status, err := c.do(ctx, http.MethodDelete, entityPath(entityType, id), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	return statusError("delete "+entityType, status, body)
}

// ListCategories returns every category the server knows.
func (c *Client) ListCategories(ctx context.Context) ([]category.TimeCategory, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil)
	if err != nil {
		return nil, err
	}
	if err := statusError("list categories", status, body); err != nil {
		return nil, err
	}
	var out []category.TimeCategory
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Transient("list categories", fmt.Errorf("decode: %w", err))
	}
	return out, nil
}

// IsConnected probes /healthz.
func (c *Client) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.ping)
	defer cancel()

	_, status, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		c.logger.Debug("connectivity probe failed", "error", err)
		return false
	}
	return status == http.StatusOK
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, 0, apperr.Permanent(method+" "+path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, apperr.Transient(method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, apperr.Transient(method+" "+path, fmt.Errorf("read body: %w", err))
	}
	return data, resp.StatusCode, nil
}

func statusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	switch {
	case status >= 500,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return apperr.Transient(op, fmt.Errorf("status %d: %s", status, snippet(body)))
	}

	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error.Code == "" {
		return apperr.Permanent(op, fmt.Errorf("status %d: %s", status, snippet(body)))
	}
	return &apperr.Error{
		Code:    eb.Error.Code,
		Message: eb.Error.Message,
		Field:   eb.Error.Field,
		Details: eb.Error.Details,
	}
}

func entityPath(entityType, id string) string {
	return "/api/v1/entities/" + url.PathEscape(entityType) + "/" + url.PathEscape(id)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
