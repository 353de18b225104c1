// Package agents holds the in-process capability handlers the host agent
// routes to. Every handler is total: internal failures come back as an
// "error" entry in the result, never as a Go error.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shopassist/internal/adapter/catalog"
	"shopassist/internal/domain"
	"shopassist/internal/infra/logger"
	"shopassist/internal/usecase/a2a"
	"shopassist/internal/usecase/intent"
)

// Catalog is the product source the handlers read from.
type Catalog interface {
	Search(ctx context.Context, q catalog.Query) []domain.Product
	Get(ctx context.Context, nameOrID string) (domain.Product, bool)
	Degraded() bool
}

// Config bounds the per-session stores shared by the handlers.
type Config struct {
	MaxSessions int
	TTL         time.Duration
}

// Suite is the set of five handlers plus the state they share.
type Suite struct {
	ProductDiscovery *ProductDiscovery
	CO2Calculator    *CO2Calculator
	CartManager      *CartManager
	Checkout         *Checkout
	Comparison       *Comparison
}

// deps is what every handler holds.
type deps struct {
	catalog Catalog
	carts   *CartStore
	focus   *FocusStore
	vocab   *intent.Vocabulary
	logger  *slog.Logger
}

// SuiteOption configures a Suite.
type SuiteOption func(*deps)

// WithVocabulary sets the vocabulary used to spot product names in messages.
func WithVocabulary(v *intent.Vocabulary) SuiteOption {
	return func(d *deps) { d.vocab = v }
}

// NewSuite builds the handlers over cat.
func NewSuite(cat Catalog, cfg Config, l *slog.Logger, opts ...SuiteOption) *Suite {
	d := &deps{
		catalog: cat,
		carts:   NewCartStore(cfg.MaxSessions, cfg.TTL),
		focus:   NewFocusStore(cfg.MaxSessions, cfg.TTL),
		vocab:   intent.DefaultVocabulary,
		logger:  logger.OrDiscard(l),
	}
	for _, opt := range opts {
		opt(d)
	}
	return &Suite{
		ProductDiscovery: &ProductDiscovery{deps: d},
		CO2Calculator:    &CO2Calculator{deps: d},
		CartManager:      &CartManager{deps: d},
		Checkout:         &Checkout{deps: d, now: time.Now},
		Comparison:       &Comparison{deps: d},
	}
}

// Handles returns every handler keyed by its agent name.
func (s *Suite) Handles() map[string]any {
	return map[string]any{
		domain.AgentProductDiscovery: s.ProductDiscovery,
		domain.AgentCO2Calculator:    s.CO2Calculator,
		domain.AgentCartManager:      s.CartManager,
		domain.AgentCheckout:         s.Checkout,
		domain.AgentComparison:       s.Comparison,
	}
}

// Register adds every handler to p.
func (s *Suite) Register(p *a2a.Protocol) error {
	for name, h := range s.Handles() {
		if err := p.RegisterAgent(name, h); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// Carts exposes the shared cart store.
func (s *Suite) Carts() *CartStore { return s.CartManager.carts }

// health is shared by all handlers: degraded while the catalog runs on
// its fallback.
func (d *deps) health() domain.HealthState {
	if d.catalog.Degraded() {
		return domain.HealthDegraded
	}
	return domain.HealthHealthy
}

// safe runs fn and converts a panic into an error result.
func (d *deps) safe(agent string, fn func() domain.Result) (res domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "agent", agent, "panic", r)
			res = failure(fmt.Sprintf("internal error: %v", r),
				"Sorry, something went wrong on my side. Please try again.")
		}
	}()
	return fn()
}

// failure builds a handler-internal error result.
func failure(errText, response string) domain.Result {
	return domain.Result{"error": errText, "response": response}
}

// products resolves product names to catalog entries, skipping unknown ones.
func (d *deps) products(ctx context.Context, names []string) []domain.Product {
	var out []domain.Product
	for _, n := range names {
		if p, ok := d.catalog.Get(ctx, n); ok {
			out = append(out, p)
		}
	}
	return out
}

// mentioned returns the products named in message, falling back to the
// session's focus when none are named.
func (d *deps) mentioned(ctx context.Context, message, sessionID string) (products []domain.Product, fromFocus bool) {
	if found := d.products(ctx, d.vocab.Find(message)); len(found) > 0 {
		return found, false
	}
	return d.focus.Get(sessionID), true
}

// --- task parameter helpers ---

func params(task domain.Payload) map[string]any {
	if p, ok := task["parameters"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}

func paramString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func paramFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func paramBool(p map[string]any, key string) bool {
	b, _ := p[key].(bool)
	return b
}

// paramStrings accepts both []string (in-process) and []any (decoded JSON).
func paramStrings(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func money(v float64) string { return fmt.Sprintf("$%.2f", v) }

func productList(products []domain.Product) []map[string]any {
	out := make([]map[string]any, len(products))
	for i, p := range products {
		out[i] = map[string]any{
			"id":         p.ID,
			"name":       p.Name,
			"price_usd":  p.PriceUSD,
			"categories": p.Categories,
		}
	}
	return out
}

func names(products []domain.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}

func joinNames(products []domain.Product) string {
	n := names(products)
	switch len(n) {
	case 0:
		return ""
	case 1:
		return n[0]
	}
	return strings.Join(n[:len(n)-1], ", ") + " and " + n[len(n)-1]
}
