package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/invobilled/invobilled/internal/pkg/idgen"
	"github.com/invobilled/invobilled/internal/pkg/logger"
	"github.com/invobilled/invobilled/internal/pkg/metrics"
)

const (
	// DefaultTimeout applies to every call, including a retry after token refresh
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 10 << 20
)

// DefaultExternalHosts are third-party hosts whose requests are never given credentials
var DefaultExternalHosts = []string{
	"api.cloudinary.com",
	"res.cloudinary.com",
}

type externalKey struct{}

// Request describes a single API call
type Request struct {
	Method string
	// Path is relative to the client's base URL, or an absolute URL
	Path string
	// Body is JSON-encoded unless it is an io.Reader
	Body        any
	ContentType string
	Header      http.Header
	// External marks the request as bound for a third party; no credentials are attached
	External bool
}

// Response is a successful (2xx) API response
type Response struct {
	StatusCode int
	Header     http.Header
	Data       []byte
}

// Decode unmarshals the JSON response body into v
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client calls the invoicing REST API with session-based authentication
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	externalHosts map[string]bool
	userAgent     string
	log           *slog.Logger
}

type options struct {
	timeout       time.Duration
	transport     http.RoundTripper
	logger        *slog.Logger
	externalHosts []string
	userAgent     string
}

// Option configures a Client
type Option func(*options)

// WithTimeout overrides the default 10 second request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTransport sets the underlying transport (defaults to http.DefaultTransport)
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger sets the logger used for request failures
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExternalHosts replaces the list of hosts treated as third-party
func WithExternalHosts(hosts ...string) Option {
	return func(o *options) { o.externalHosts = hosts }
}

// WithUserAgent sets the User-Agent header on every request
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// NewClient creates a new API client.
// If session is nil, no auth interceptor is installed (useful for public endpoints).
func NewClient(baseURL string, session Session, opts ...Option) (*Client, error) {
	o := options{
		timeout:       DefaultTimeout,
		externalHosts: DefaultExternalHosts,
		userAgent:     "invobilled",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		baseURL:       u,
		externalHosts: make(map[string]bool, len(o.externalHosts)),
		userAgent:     o.userAgent,
		log:           o.logger.With(slog.String("component", "api_client")),
	}
	for _, h := range o.externalHosts {
		c.externalHosts[strings.ToLower(h)] = true
	}

	transport := metrics.NewAPITransport(o.transport)
	if session != nil {
		transport = NewAuthInterceptor(session, transport, c.isExternal, o.logger)
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   o.timeout,
		Jar:       jar,
	}
	return c, nil
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Get issues a GET request
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Delete issues a DELETE request
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// Do sends r and returns the response, or an *APIError describing the failure
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	ctx = withRetryState(ctx)
	requestID := idgen.NewRequestID()

	req, err := c.newHTTPRequest(ctx, r, requestID)
	if err != nil {
		apiErr := &APIError{
			Kind:    KindRequestSetup,
			Method:  r.Method,
			URL:     r.Path,
			Message: MsgRequestSetup,
			Err:     err,
		}
		c.logFailure(apiErr, requestID)
		return nil, apiErr
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := transportError(req, err)
		c.logFailure(apiErr, requestID)
		return nil, apiErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		apiErr := &APIError{
			Kind:       KindNetworkUnavailable,
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        req.URL.String(),
			Message:    MsgNoResponse,
			Err:        err,
		}
		c.logFailure(apiErr, requestID)
		return nil, apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := classifyResponse(req.Method, req.URL.String(), resp.StatusCode, data)
		c.logFailure(apiErr, requestID)
		return nil, apiErr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Data:       data,
	}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, r *Request, requestID string) (*http.Request, error) {
	if r.Method == "" {
		return nil, errors.New("request method is required")
	}

	target, err := c.resolve(r.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := r.ContentType
	switch b := r.Body.(type) {
	case nil:
	case io.Reader:
		// Buffer so the body can be replayed after a token refresh
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		body = bytes.NewReader(data)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	if r.External {
		ctx = context.WithValue(ctx, externalKey{}, true)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, err
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if !c.isExternal(req) {
		req.Header.Set("X-Request-ID", requestID)
	}

	return req, nil
}

// resolve turns a path into an absolute URL under the base URL.
// Absolute URLs are returned unchanged.
func (c *Client) resolve(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	return c.baseURL.String() + "/" + strings.TrimLeft(path, "/"), nil
}

// isExternal reports whether req targets a third party rather than the API
func (c *Client) isExternal(req *http.Request) bool {
	if external, _ := req.Context().Value(externalKey{}).(bool); external {
		return true
	}
	host := strings.ToLower(req.URL.Hostname())
	if c.externalHosts[host] {
		return true
	}
	return !strings.EqualFold(req.URL.Host, c.baseURL.Host)
}

// transportError classifies a failure where no usable response was received
func transportError(req *http.Request, err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Method == "" {
			apiErr.Method = req.Method
		}
		if apiErr.URL == "" {
			apiErr.URL = req.URL.String()
		}
		return apiErr
	}
	return &APIError{
		Kind:    KindNetworkUnavailable,
		Method:  req.Method,
		URL:     req.URL.String(),
		Message: MsgNoResponse,
		Err:     err,
	}
}

func (c *Client) logFailure(apiErr *APIError, requestID string) {
	attrs := []any{
		slog.String("method", apiErr.Method),
		slog.String("url", apiErr.URL),
		slog.Int("status", apiErr.StatusCode),
		slog.String("kind", apiErr.Kind.String()),
		slog.String("message", apiErr.Message),
	}
	if len(apiErr.Data) > 0 {
		attrs = append(attrs, slog.String("data", truncate(string(apiErr.Data), 2048)))
	}
	if apiErr.Err != nil {
		attrs = append(attrs, slog.String("error", apiErr.Err.Error()))
	}
	logger.WithRequestID(c.log, requestID).Error("API error", attrs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
