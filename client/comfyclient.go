package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every HTTP call made to the engine unless overridden
const DefaultTimeout = 30 * time.Second

// ComfyClient talks to the HTTP and websocket API of a ComfyUI backend
type ComfyClient struct {
	baseURL    *url.URL
	timeout    time.Duration
	httpclient *http.Client
	logger     *slog.Logger
}

// Option customizes a ComfyClient
type Option func(*ComfyClient)

// WithTimeout bounds each request to the engine. Zero or less disables the bound
// and leaves cancellation to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *ComfyClient) {
		c.timeout = d
	}
}

// WithHttpClient replaces the underlying http client
func WithHttpClient(hc *http.Client) Option {
	return func(c *ComfyClient) {
		c.httpclient = hc
	}
}

// WithLogger sets the logger used for submission diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(c *ComfyClient) {
		c.logger = l
	}
}

// NewComfyClient creates a client for the engine at baseURL, e.g. http://127.0.0.1:8188
func NewComfyClient(baseURL string, opts ...Option) (*ComfyClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("engine url %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("engine url %q has no host", baseURL)
	}

	retv := &ComfyClient{
		baseURL:    u,
		timeout:    DefaultTimeout,
		httpclient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(retv)
	}
	if retv.logger == nil {
		retv.logger = slog.Default()
	}
	if retv.httpclient == nil {
		retv.httpclient = &http.Client{}
	}
	return retv, nil
}

// BaseURL returns the engine address the client was created with
func (c *ComfyClient) BaseURL() string {
	return c.baseURL.String()
}

func (c *ComfyClient) endpoint(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// websocketURL is the status stream for clientID
func (c *ComfyClient) websocketURL(clientID string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": []string{clientID}}.Encode()
	return u.String()
}
