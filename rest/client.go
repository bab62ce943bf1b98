// Package rest is a client for the chat hub's HTTP API. Every response is
// wrapped in the hub.Response envelope; server error codes come back as
// hub.APIError values inside a *RequestError.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/hubchat/config"
	"github.com/Tyrowin/hubchat/hub"
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "hubchat-go"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// Client talks to one chat hub API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	log        zerolog.Logger
}

type clientConfig struct {
	httpClient *http.Client
	token      string
	userAgent  string
	logger     *zerolog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// WithToken sets the bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(cfg *clientConfig) {
		cfg.token = token
	}
}

func WithUserAgent(ua string) Option {
	return func(cfg *clientConfig) {
		cfg.userAgent = ua
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = &l
	}
}

// NewClient creates a client for the API rooted at baseURL, for example
// "http://localhost:8080/api".
func NewClient(baseURL string, opts ...Option) *Client {
	cfg := &clientConfig{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}

	logger := log.Logger
	if cfg.logger != nil {
		logger = *cfg.logger
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.token,
		userAgent:  cfg.userAgent,
		httpClient: httpClient,
		log:        logger.With().Str("component", "rest").Str("endpoint", baseURL).Logger(),
	}
}

// FromConfig builds a client from a validated client configuration.
func FromConfig(c *config.ClientConfig, opts ...Option) (*Client, error) {
	if err := c.Validate(time.Now()); err != nil {
		return nil, err
	}
	api, err := c.APIURL()
	if err != nil {
		return nil, err
	}
	return NewClient(api, append([]Option{WithToken(c.AuthToken)}, opts...)...), nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// request describes one API call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func textBody(method, path, text string) request {
	return request{method: method, path: path, body: []byte(text), contentType: "text/plain; charset=utf-8"}
}

func jsonBody(method, path string, v any) (request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return request{}, &RequestError{Method: method, Path: path, Err: errors.Wrap(err, "encode request body")}
	}
	return request{method: method, path: path, body: data, contentType: "application/json"}, nil
}

// call performs req and unwraps the response envelope into T.
func call[T any](ctx context.Context, c *Client, req request) (T, error) {
	var zero T
	fail := func(status int, err error) (T, error) {
		return zero, &RequestError{Method: req.method, Path: req.path, StatusCode: status, Err: err}
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return fail(0, errors.Wrap(err, "build request"))
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(0, ctxErr)
		}
		c.log.Debug().Err(err).Str("method", req.method).Str("path", req.path).Msg("rest request failed")
		return fail(0, errors.Wrap(ErrConnection, err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fail(resp.StatusCode, errors.Wrap(ErrConnection, err.Error()))
	}
	c.log.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("rest request")

	var envelope hub.Response[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fail(resp.StatusCode, errors.Wrap(ErrUnexpectedResponse, err.Error()))
	}
	v, err := envelope.Result()
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	return v, nil
}

// callNoResult performs req and discards the success payload.
func callNoResult(ctx context.Context, c *Client, req request) error {
	_, err := call[json.RawMessage](ctx, c, req)
	return err
}

// pathf joins escaped path segments into "/a/b/c".
func pathf(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}
