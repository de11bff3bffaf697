// Package rest is the transport every resource model and collection goes
// through.
//
//	client := rest.New("https://data.example.org/api/v1",
//	    rest.WithToken(token),
//	    rest.WithRateLimit(20, 5),
//	)
//
//	var folder map[string]any
//	err := client.Get(ctx, "folder/"+id, nil, &folder)
//
// The API root and static root can be changed while the client is in use;
// the change applies to requests and URLs built after it.
package rest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/shelf/cache"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// DefaultTokenHeader carries the session token.
	DefaultTokenHeader = "Shelf-Token"
	// RequestIDHeader carries the per-request id.
	RequestIDHeader = "X-Request-Id"
)

// Client communicates with the platform REST API.
type Client struct {
	mu         sync.RWMutex
	apiRoot    string
	staticRoot string
	origin     string
	token      string
	onError    func(*RequestError)

	tokenHeader    string
	httpClient     *http.Client
	limiter        *rate.Limiter
	metrics        *Metrics
	tracing        bool
	tracerProvider trace.TracerProvider
	cache          cache.Store
	cacheTTL       time.Duration
	logger         *slog.Logger

	generation atomic.Uint64
	// cacheEpoch is part of every cache key and advances on each successful
	// write, so no cached GET survives a mutation.
	cacheEpoch atomic.Uint64
}

// Option configures the Client.
type Option func(*Client)

// WithToken sets the initial session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTokenHeader overrides the header the token is sent in.
func WithTokenHeader(name string) Option {
	return func(c *Client) { c.tokenHeader = name }
}

// WithStaticRoot sets the base URL for static assets.
func WithStaticRoot(root string) Option {
	return func(c *Client) { c.staticRoot = strings.TrimRight(root, "/") }
}

// WithOrigin sets the scheme and host used to resolve a relative API root
// such as "/api/v1".
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = strings.TrimRight(origin, "/") }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit limits outgoing requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithMetrics records request metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracing instruments the transport with OpenTelemetry. A nil provider
// uses the global one.
func WithTracing(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracing = true
		c.tracerProvider = tp
	}
}

// WithCache caches successful GET responses in store for ttl. Any
// successful non-GET request invalidates every cached response.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithErrorHandler installs the generic request error handler.
func WithErrorHandler(fn func(*RequestError)) Option {
	return func(c *Client) { c.onError = fn }
}

// New creates a Client rooted at apiRoot.
func New(apiRoot string, opts ...Option) *Client {
	c := &Client{
		apiRoot:     strings.TrimRight(apiRoot, "/"),
		tokenHeader: DefaultTokenHeader,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracing {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		var topts []otelhttp.Option
		if c.tracerProvider != nil {
			topts = append(topts, otelhttp.WithTracerProvider(c.tracerProvider))
		}
		hc := *c.httpClient
		hc.Transport = otelhttp.NewTransport(base, topts...)
		c.httpClient = &hc
	}
	return c
}

// APIRoot returns the current API root.
func (c *Client) APIRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiRoot
}

// SetAPIRoot changes the API root for subsequent requests.
func (c *Client) SetAPIRoot(root string) {
	c.mu.Lock()
	c.apiRoot = strings.TrimRight(root, "/")
	c.mu.Unlock()
}

// StaticRoot returns the current static asset root.
func (c *Client) StaticRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.staticRoot
}

// SetStaticRoot changes the static asset root for subsequent URL builds.
func (c *Client) SetStaticRoot(root string) {
	c.mu.Lock()
	c.staticRoot = strings.TrimRight(root, "/")
	c.mu.Unlock()
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the session token. An empty token logs out locally.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetErrorHandler replaces the generic request error handler.
func (c *Client) SetErrorHandler(fn func(*RequestError)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Metrics returns the metrics the client records on, or nil.
func (c *Client) Metrics() *Metrics { return c.metrics }

// CancelOutstanding marks every in-flight request as ignored. Their
// transports are not aborted; on completion they return ErrDiscarded.
func (c *Client) CancelOutstanding() {
	c.generation.Add(1)
}

// URL resolves a resource path against the current API root. Absolute URLs
// are returned unchanged.
func (c *Client) URL(path string) string {
	if isAbsolute(path) {
		return path
	}
	return c.resolvedRoot() + "/" + strings.TrimLeft(path, "/")
}

// StaticURL resolves an asset path against the current static root.
func (c *Client) StaticURL(path string) string {
	c.mu.RLock()
	root := c.staticRoot
	c.mu.RUnlock()
	return root + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) resolvedRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.origin != "" && !isAbsolute(c.apiRoot) {
		return c.origin + "/" + strings.TrimLeft(c.apiRoot, "/")
	}
	return c.apiRoot
}

// underRoot reports whether u is under the current API root, in which case
// the session token is attached.
func (c *Client) underRoot(u string) bool {
	root := c.resolvedRoot()
	return u == root || strings.HasPrefix(u, root+"/") || strings.HasPrefix(u, root+"?")
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Request describes one REST call.
type Request struct {
	Method string
	// Path is relative to the API root, or an absolute URL.
	Path  string
	Query url.Values
	// Body is JSON-encoded unless it is a []byte or io.Reader, which are sent
	// as-is with ContentType.
	Body        any
	ContentType string
	Header      http.Header
	// SuppressErrorHandler skips the generic error handler; the caller handles
	// the returned error itself.
	SuppressErrorHandler bool
	// NoCache bypasses the response cache for a GET.
	NoCache bool
}

// Do performs req and decodes a JSON response into target when target is
// non-nil.
func (c *Client) Do(ctx context.Context, req Request, target any) error {
	gen := c.generation.Load()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	fullURL := c.URL(req.Path)
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + req.Query.Encode()
	}
	resource := resourceLabel(req.Path)

	useCache := c.cache != nil && method == http.MethodGet && !req.NoCache
	cacheKey := c.cacheKey(fullURL)
	if useCache {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			c.logger.Debug("rest cache hit", "url", fullURL)
			return decodeInto(data, target)
		} else if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn("rest cache read failed", "url", fullURL, "error", err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.fail(req, &RequestError{Method: method, URL: fullURL, Err: err})
		}
	}

	body, contentType, err := encodeBody(req.Body, req.ContentType)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" && c.underRoot(fullURL) {
		httpReq.Header.Set(c.tokenHeader, token)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.observe(method, resource, 0, time.Since(start))
		if c.generation.Load() != gen {
			c.metrics.discarded()
			return ErrDiscarded
		}
		c.logger.Debug("rest transport error", "method", method, "url", fullURL, "request_id", requestID, "error", err)
		return c.fail(req, &RequestError{Method: method, URL: fullURL, Err: err})
	}
	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	elapsed := time.Since(start)
	c.metrics.observe(method, resource, resp.StatusCode, elapsed)

	if c.generation.Load() != gen {
		c.metrics.discarded()
		c.logger.Debug("rest response discarded", "method", method, "url", fullURL, "request_id", requestID)
		return ErrDiscarded
	}
	c.logger.Debug("rest request",
		"method", method,
		"url", fullURL,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", elapsed,
	)
	if readErr != nil {
		return c.fail(req, &RequestError{Method: method, URL: fullURL, StatusCode: resp.StatusCode, Status: resp.Status, Err: readErr})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(req, newResponseError(method, fullURL, resp.StatusCode, resp.Status, data))
	}

	if c.cache != nil {
		if method == http.MethodGet {
			if !req.NoCache {
				if err := c.cache.Set(ctx, cacheKey, data, c.cacheTTL); err != nil {
					c.logger.Warn("rest cache write failed", "url", fullURL, "error", err)
				}
			}
		} else {
			// A write can change any resource or listing, not only its own path.
			c.cacheEpoch.Add(1)
		}
	}
	return decodeInto(data, target)
}

func (c *Client) fail(req Request, rerr *RequestError) error {
	if !req.SuppressErrorHandler {
		c.mu.RLock()
		handler := c.onError
		c.mu.RUnlock()
		if handler != nil {
			handler(rerr)
		}
	}
	return rerr
}

func (c *Client) cacheKey(u string) string {
	sum := sha256.Sum256([]byte(c.Token()))
	return hex.EncodeToString(sum[:8]) + " " + strconv.FormatUint(c.cacheEpoch.Load(), 10) + " " + u
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values, target any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, target)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body, target any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Query: query, Body: body}, target)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, query url.Values, body, target any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Query: query, Body: body}, target)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, query url.Values, target any) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Query: query}, target)
}

func encodeBody(body any, contentType string) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, contentType, nil
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return bytes.NewReader(b), contentType, nil
	case io.Reader:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return b, contentType, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return bytes.NewReader(data), contentType, nil
	}
}

func decodeInto(data []byte, target any) error {
	if target == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := target.(*[]byte); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// resourceLabel returns the first path segment ("folder" for "folder/1/access").
func resourceLabel(path string) string {
	if isAbsolute(path) {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}
