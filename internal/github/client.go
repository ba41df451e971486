// Package github is a credential-rotating client for the handful of GitHub
// REST and GraphQL calls the harvester needs. Every call goes through
// Execute, which rotates credentials on rate limits and returns every other
// failure to the caller.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Defaults for the public GitHub endpoints.
const (
	DefaultBaseURL    = "https://api.github.com/"
	DefaultGraphQLURL = "https://api.github.com/graphql"
	DefaultRawBaseURL = "https://raw.githubusercontent.com/"
	DefaultUserAgent  = "pom-harvester (https://github.com/JakeFAU/pom-harvester)"
	DefaultTimeout    = 30 * time.Second
)

// Config describes the endpoints and timing used by the Client.
type Config struct {
	BaseURL    string
	GraphQLURL string
	RawBaseURL string
	UserAgent  string
	Timeout    time.Duration
	Cooldown   time.Duration
}

type options struct {
	transport http.RoundTripper
	limiter   Waiter
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*options)

// WithTransport replaces the underlying network transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLimiter caps the outbound request rate per host.
func WithLimiter(w Waiter) Option {
	return func(o *options) { o.limiter = w }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSleep replaces the cooldown sleep, mostly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// Client issues authenticated, classified, retried GitHub API calls.
type Client struct {
	http       *http.Client
	gql        *githubv4.Client
	graphqlURL string
	base       *url.URL
	rawBase    *url.URL
	pool       *Pool
	retrier    *Retrier
	logger     *zap.Logger
}

// New builds a Client authenticating with credentials from pool.
func New(cfg Config, pool *Pool, opts ...Option) (*Client, error) {
	if pool == nil {
		return nil, ErrNoCredentials
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = DefaultGraphQLURL
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = DefaultRawBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	rawBase, err := parseBaseURL(cfg.RawBaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := Absolute(cfg.GraphQLURL).Resolve(nil); err != nil {
		return nil, fmt.Errorf("graphql url: %w", err)
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &classifyingTransport{
			wrapped:   &oauth2.Transport{Source: pool, Base: o.transport},
			userAgent: cfg.UserAgent,
			limiter:   o.limiter,
		},
	}
	retrier := NewRetrier(pool, cfg.Cooldown, o.logger)
	if o.sleep != nil {
		retrier.sleep = o.sleep
	}

	return &Client{
		http:       httpClient,
		gql:        githubv4.NewEnterpriseClient(cfg.GraphQLURL, httpClient),
		graphqlURL: cfg.GraphQLURL,
		base:       base,
		rawBase:    rawBase,
		pool:       pool,
		retrier:    retrier,
		logger:     o.logger,
	}, nil
}

// get sends a GET to target and hands back the successful response.
func (c *Client) get(ctx context.Context, target Target) (*http.Response, error) {
	rawURL, err := target.Resolve(c.base)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			// The transport already names the URL; keep the classified error on top.
			if apiErr, ok := AsAPIError(urlErr.Err); ok {
				return nil, apiErr
			}
		}
		return nil, &APIError{Kind: KindTransient, URL: rawURL, Err: err}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, target Target, out any) error {
	resp, err := c.get(ctx, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func (c *Client) getBytes(ctx context.Context, target Target) ([]byte, error) {
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransient, URL: target.value, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func trimName(fullName string) string {
	return strings.Trim(fullName, "/")
}

// CredentialSlot reports which pool slot requests currently authenticate with.
func (c *Client) CredentialSlot() int {
	return c.pool.Index()
}
