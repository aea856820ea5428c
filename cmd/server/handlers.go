package main

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

	"github.com/phrazzld/taskqueue/internal/config"
	"github.com/phrazzld/taskqueue/internal/task"
)

// Built-in task types.
const (
	TaskTypeNoop        = "noop"
	TaskTypeHTTPRequest = "http.request"
)

// maxResponseBody bounds how much of a response body is kept in the result.
const maxResponseBody = 64 << 10

const defaultHTTPRequestTimeout = 30 * time.Second

// registerBuiltinHandlers registers noop always and http.request only when
// cfg enables it.
func registerBuiltinHandlers(r *task.Registry, cfg config.HTTPRequestHandlerConfig) error {
	if err := r.Register(TaskTypeNoop, task.HandlerFunc(noopHandler)); err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPRequestTimeout
	}
	return r.Register(TaskTypeHTTPRequest,
		newHTTPRequestHandler(&http.Client{Timeout: timeout}, cfg.AllowedHosts))
}

// noopHandler returns its payload unchanged.
func noopHandler(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}

type httpRequestPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type httpRequestResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// httpRequestHandler sends the request described by the payload and fails
// on transport errors and non-2xx responses. A non-empty allowlist restricts
// the target hosts.
type httpRequestHandler struct {
	client       *http.Client
	allowedHosts map[string]struct{}
}

func newHTTPRequestHandler(client *http.Client, allowedHosts []string) *httpRequestHandler {
	h := &httpRequestHandler{client: client}
	if len(allowedHosts) > 0 {
		h.allowedHosts = make(map[string]struct{}, len(allowedHosts))
		for _, host := range allowedHosts {
			h.allowedHosts[strings.ToLower(host)] = struct{}{}
		}
		// Redirects must stay within the allowlist too.
		c := *client
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if !h.hostAllowed(req.URL) {
				return fmt.Errorf("redirect to host %q is not allowed", req.URL.Host)
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		}
		h.client = &c
	}
	return h
}

func (h *httpRequestHandler) hostAllowed(u *url.URL) bool {
	if h.allowedHosts == nil {
		return true
	}
	if _, ok := h.allowedHosts[strings.ToLower(u.Host)]; ok {
		return true
	}
	_, ok := h.allowedHosts[strings.ToLower(u.Hostname())]
	return ok
}

func (h *httpRequestHandler) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p httpRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid http.request payload: %w", err)
	}
	if p.URL == "" {
		return nil, errors.New("invalid http.request payload: url is required")
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(p.Body) > 0 && string(p.Body) != "null" {
		body = bytes.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, fmt.Errorf("invalid http.request payload: unsupported scheme %q", req.URL.Scheme)
	}
	if !h.hostAllowed(req.URL) {
		return nil, fmt.Errorf("invalid http.request payload: host %q is not allowed", req.URL.Host)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	result := httpRequestResult{StatusCode: resp.StatusCode}
	if len(data) > maxResponseBody {
		data = data[:maxResponseBody]
		result.Truncated = true
	}
	result.Body = string(data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s %s", resp.StatusCode, method, p.URL)
	}
	return json.Marshal(result)
}
