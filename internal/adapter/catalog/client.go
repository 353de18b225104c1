// Package catalog reads products from the storefront backend. Every backend
// call goes through a retry-with-breaker wrapper whose fallback is the
// built-in demo catalog, so callers always get a product list.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/infra/logger"
	"shopassist/internal/infra/tracer"
	"shopassist/internal/usecase/resilience"
)

const maxResponseBody = 5 * 1024 * 1024

// Query filters a product search. Zero fields don't filter.
type Query struct {
	Name     string
	Category string
	MaxPrice float64
}

// Client is the catalog client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	policy  resilience.RetryPolicy
	logger  *slog.Logger

	breakerOpts []resilience.BreakerOption
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreakerOptions passes options to the client's circuit breaker.
func WithBreakerOptions(opts ...resilience.BreakerOption) Option {
	return func(c *Client) { c.breakerOpts = append(c.breakerOpts, opts...) }
}

// New creates a catalog client. An empty cfg.BaseURL serves the demo
// catalog without any network calls.
func New(cfg config.CatalogConfig, l *slog.Logger, opts ...Option) *Client {
	l = logger.OrDiscard(l)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		policy: resilience.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			Logger:     l,
		},
		logger: l,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.NewCircuitBreaker("catalog", cfg.FailMax, cfg.ResetTimeout,
		append([]resilience.BreakerOption{resilience.WithLogger(l)}, c.breakerOpts...)...)
	return c
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Live reports whether a backend is configured.
func (c *Client) Live() bool { return c.baseURL != "" }

// Products returns the full catalog. It never fails: backend errors and an
// open breaker yield the demo catalog.
func (c *Client) Products(ctx context.Context) []domain.Product {
	if !c.Live() {
		return DemoProducts()
	}
	ctx, span := tracer.StartSpan(ctx, "catalog.fetch", tracer.StringAttr("catalog.url", c.baseURL))
	defer span.End()

	return resilience.Call(ctx, c.policy, c.breaker, c.fetch, func(context.Context) []domain.Product {
		c.logger.Debug("serving demo catalog")
		span.SetAttributes(tracer.StringAttr("catalog.source", "demo"))
		return DemoProducts()
	})
}

// Search returns the products matching q.
func (c *Client) Search(ctx context.Context, q Query) []domain.Product {
	var out []domain.Product
	for _, p := range c.Products(ctx) {
		if q.Name != "" && !strings.EqualFold(p.Name, q.Name) {
			continue
		}
		if q.Category != "" && !p.HasCategory(q.Category) {
			continue
		}
		if q.MaxPrice > 0 && p.PriceUSD > q.MaxPrice {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Get looks up a product by id or case-insensitive name.
func (c *Client) Get(ctx context.Context, nameOrID string) (domain.Product, bool) {
	for _, p := range c.Products(ctx) {
		if p.ID == nameOrID || strings.EqualFold(p.Name, nameOrID) {
			return p, true
		}
	}
	return domain.Product{}, false
}

// Names returns every product name, in catalog order.
func (c *Client) Names(ctx context.Context) []string {
	products := c.Products(ctx)
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.Name
	}
	return names
}

type productsResponse struct {
	Products []domain.Product `json:"products"`
}

// fetch performs one GET {baseURL}/products.
func (c *Client) fetch(ctx context.Context) ([]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, domain.NewSubSystemError("catalog", "Client.fetch", domain.ErrTimeout, err.Error())
		}
		return nil, domain.NewSubSystemError("catalog", "Client.fetch", domain.ErrProviderError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewSubSystemError("catalog", "Client.fetch", domain.ErrProviderError,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var out productsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.NewSubSystemError("catalog", "Client.fetch", domain.ErrProviderError, "decode products: "+err.Error())
	}
	return out.Products, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Degraded reports whether the backend breaker is open and results are
// coming from the demo catalog.
func (c *Client) Degraded() bool {
	return c.Live() && c.breaker.State() == resilience.StateOpen
}
