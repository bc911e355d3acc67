// Package rest is the HTTP collaborator of the streaming SDK. It performs
// authenticated GET, POST, and DELETE requests against the ITSLanguage REST
// API and retrieves challenges and stored results.
//
// Requests are authenticated with Basic credentials or an OAuth2 bearer
// token, guarded by a circuit breaker, and instrumented with the metrics and
// trace propagation of [observe.Transport].
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/itslanguage/itslanguage-go/internal/observe"
	"github.com/itslanguage/itslanguage-go/internal/resilience"
	"github.com/itslanguage/itslanguage-go/pkg/auth"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 64 << 10

// ErrNoAuth is returned by [New] when neither Basic credentials nor a token
// source were configured.
var ErrNoAuth = errors.New("rest: no authentication configured")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int

	// Message is the "message" field of the error body, or the raw body when
	// it is not JSON.
	Message string

	// Errors holds per-field validation errors, if any.
	Errors []FieldError
}

// FieldError is one validation error reported by the API.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("rest: %d %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is an [APIError] with status 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Option configures a [Client].
type Option func(*Client)

// WithBasicAuth authenticates requests with Basic credentials.
func WithBasicAuth(creds auth.Credentials) Option {
	return func(c *Client) { c.basic = creds }
}

// WithTokenSource authenticates requests with bearer tokens from ts. It takes
// precedence over Basic credentials.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient sets the underlying HTTP client. Its transport is wrapped,
// not replaced.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithBreaker guards requests with cb. By default each Client gets its own
// breaker named "rest".
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSigner signs audio URLs in retrieved results and challenges.
func WithSigner(s URLSigner) Option {
	return func(c *Client) { c.signer = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client talks to the ITSLanguage REST API. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client

	base    *http.Client
	basic   auth.Credentials
	tokens  oauth2.TokenSource
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
	signer  URLSigner
	log     *slog.Logger
}

// New returns a Client for the API rooted at baseURL, e.g.
// "https://api.itslanguage.nl".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest: base url %q must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{baseURL: u, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.tokens == nil && c.basic.IsZero() {
		return nil, ErrNoAuth
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "rest",
			IsFailure: isBreakerFailure,
			Logger:    c.log,
		})
	}

	base := c.base
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	rt = observe.Transport(c.metrics, rt)
	if c.tokens != nil {
		rt = &oauth2.Transport{Source: c.tokens, Base: rt}
	}
	hc := *base
	hc.Transport = rt
	c.http = &hc
	return c, nil
}

// isBreakerFailure counts transport errors and server-side failures. Client
// errors such as 404 say nothing about the health of the API.
func isBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Temporary()
	}
	return true
}

// Breaker returns the circuit breaker guarding the client.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Get fetches path and decodes the JSON response into v. v may be nil.
func (c *Client) Get(ctx context.Context, path string, query url.Values, v any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, v)
}

// Post sends body as JSON to path and decodes the response into v. Both may
// be nil.
func (c *Client) Post(ctx context.Context, path string, body, v any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, v)
}

// Delete deletes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, v any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rd)
		if err != nil {
			return fmt.Errorf("rest: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.tokens == nil {
			req.SetBasicAuth(c.basic.Principal, c.basic.Credentials)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("rest: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return readAPIError(resp)
		}
		if v == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.log.Debug("rest: request short-circuited", "method", method, "path", path)
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	return err
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ae := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Message string       `json:"message"`
		Errors  []FieldError `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		ae.Message = body.Message
		ae.Errors = body.Errors
	} else {
		ae.Message = strings.TrimSpace(string(data))
	}
	return ae
}
