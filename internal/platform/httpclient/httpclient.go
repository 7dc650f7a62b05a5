// Package httpclient es el cliente JSON que usan los adapters hacia
// servicios internos (IAM). Propaga el request id y abre un span por llamada.
package httpclient

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

	"tnr-records/internal/platform/tracing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBody        = 1 << 20
)

type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
}

type Option func(*Client)

// WithTransport reemplaza el RoundTripper (tests).
func WithTransport(tr http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = tr }
}

// WithHeader agrega un header fijo a todas las llamadas (p.ej. la API key).
func WithHeader(name, value string) Option {
	return func(c *Client) {
		if strings.TrimSpace(name) != "" {
			c.headers[name] = value
		}
	}
}

// New valida baseURL; vacío se permite y deja el cliente sin configurar.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" {
		if _, err := url.ParseRequestURI(baseURL); err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		headers: map[string]string{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// StatusError es una respuesta no-2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Unauthorized indica 401/403.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// PostJSON manda in como JSON a path y decodifica la respuesta en out (si no es nil).
func (c *Client) PostJSON(ctx context.Context, path string, headers map[string]string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, headers, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	if c == nil || c.baseURL == "" {
		return errors.New("httpclient: base url not configured")
	}

	ctx, span := tracing.StartSpan(ctx, "http "+method+" "+path)
	defer span.End()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpclient: marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return fmt.Errorf("httpclient: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := chimw.GetReqID(ctx); id != "" {
		req.Header.Set(chimw.RequestIDHeader, id)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("httpclient: decode: %w", err)
	}
	return nil
}
