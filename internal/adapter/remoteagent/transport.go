// Package remoteagent delivers A2A envelopes to agents running in other
// processes over HTTP. Each endpoint is guarded by its own circuit breaker.
package remoteagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/infra/logger"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// maxResponseBody is the maximum response body size read from a peer.
const maxResponseBody = 5 * 1024 * 1024

// EndpointConfig configures one remote endpoint.
type EndpointConfig struct {
	Token          string
	BreakerFailMax uint32
	BreakerTimeout time.Duration
}

type endpoint struct {
	token   string
	breaker *gobreaker.CircuitBreaker[domain.Result]
}

// HTTPTransport implements a2a.Transport over HTTP.
type HTTPTransport struct {
	client *http.Client
	logger *slog.Logger
	onTrip func(endpoint string)

	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *HTTPTransport) { t.client = hc }
}

// OnTrip registers a callback invoked when an endpoint's breaker opens.
func OnTrip(fn func(endpoint string)) Option {
	return func(t *HTTPTransport) { t.onTrip = fn }
}

// New creates a transport with a pooled HTTP client.
func New(l *slog.Logger, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		client:    &http.Client{Transport: newPooledTransport(10*time.Second, 60*time.Second)},
		logger:    logger.OrDiscard(l),
		endpoints: make(map[string]*endpoint),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FromConfig creates a transport and configures every remote agent's endpoint.
func FromConfig(agents []config.RemoteAgentConfig, l *slog.Logger, opts ...Option) *HTTPTransport {
	t := New(l, opts...)
	for _, ra := range agents {
		t.Configure(ra.Endpoint, EndpointConfig{
			Token:          ra.Token,
			BreakerFailMax: ra.BreakerFailMax,
			BreakerTimeout: ra.BreakerTimeout,
		})
	}
	return t
}

// Configure sets per-endpoint options. Endpoints that are never configured
// get defaults on first use.
func (t *HTTPTransport) Configure(url string, cfg EndpointConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[normalizeEndpoint(url)] = t.newEndpoint(url, cfg)
}

func (t *HTTPTransport) endpoint(url string) *endpoint {
	key := normalizeEndpoint(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[key]
	if !ok {
		ep = t.newEndpoint(url, EndpointConfig{})
		t.endpoints[key] = ep
	}
	return ep
}

func (t *HTTPTransport) newEndpoint(url string, cfg EndpointConfig) *endpoint {
	maxFailures := cfg.BreakerFailMax
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}

	cb := gobreaker.NewCircuitBreaker[domain.Result](gobreaker.Settings{
		Name:        "remoteagent:" + normalizeEndpoint(url),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if to == gobreaker.StateOpen && t.onTrip != nil {
				t.onTrip(url)
			}
		},
	})
	return &endpoint{token: cfg.Token, breaker: cb}
}

// Deliver POSTs env to {endpoint}/a2a/message and decodes the JSON response
// body as the result. Non-2xx statuses and transport errors are failures; an
// open breaker fails fast with domain.ErrCircuitOpen.
func (t *HTTPTransport) Deliver(ctx context.Context, url string, env domain.Envelope) (domain.Result, error) {
	ep := t.endpoint(url)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	res, err := ep.breaker.Execute(func() (domain.Result, error) {
		respBody, err := t.do(ctx, http.MethodPost, normalizeEndpoint(url)+"/a2a/message", body, ep.token)
		if err != nil {
			return nil, err
		}
		var out domain.Result
		if len(bytes.TrimSpace(respBody)) == 0 {
			return domain.Result{}, nil
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, domain.NewSubSystemError("remoteagent", "HTTPTransport.Deliver", domain.ErrProviderError, "decode response: "+err.Error())
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewSubSystemError("remoteagent", "HTTPTransport.Deliver", domain.ErrCircuitOpen, url)
		}
		return nil, err
	}
	return res, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health GETs {endpoint}/a2a/health and reports its status field. An open
// breaker reports unhealthy without a request.
func (t *HTTPTransport) Health(ctx context.Context, url string) (domain.HealthState, error) {
	ep := t.endpoint(url)
	if ep.breaker.State() == gobreaker.StateOpen {
		return domain.HealthUnhealthy, nil
	}
	body, err := t.do(ctx, http.MethodGet, normalizeEndpoint(url)+"/a2a/health", nil, ep.token)
	if err != nil {
		return domain.HealthUnhealthy, err
	}
	var hr healthResponse
	if err := json.Unmarshal(body, &hr); err != nil || hr.Status == "" {
		return domain.HealthUnknown, nil
	}
	return domain.HealthState(hr.Status), nil
}

// BreakerState returns the breaker state for url, for monitoring.
func (t *HTTPTransport) BreakerState(url string) gobreaker.State {
	return t.endpoint(url).breaker.State()
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body []byte, token string) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.NewSubSystemError("remoteagent", "HTTPTransport.do", domain.ErrProviderError, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewSubSystemError("remoteagent", "HTTPTransport.do", domain.ErrProviderError,
			fmt.Sprintf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return respBody, nil
}

func normalizeEndpoint(url string) string {
	return strings.TrimRight(url, "/")
}

// newPooledTransport creates an http.Transport with connection pooling sized
// for a handful of peer agents.
func newPooledTransport(connTimeout, respTimeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       120 * time.Second,
	}
}
