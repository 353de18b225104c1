package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopassist/internal/adapter/catalog"
	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/usecase/a2a"
)

type degradedCatalog struct{ *catalog.Client }

func (degradedCatalog) Degraded() bool { return true }

func newSuite(t *testing.T) *Suite {
	t.Helper()
	return NewSuite(catalog.New(config.CatalogConfig{}, nil), Config{}, nil)
}

func process(t *testing.T, h domain.MessageProcessor, msg, session string) domain.Result {
	t.Helper()
	res, err := h.ProcessMessage(context.Background(), msg, session)
	require.NoError(t, err, "handlers must be total")
	return res
}

func execute(t *testing.T, h domain.TaskExecutor, task domain.Payload) domain.Result {
	t.Helper()
	res, err := h.ExecuteTask(context.Background(), task)
	require.NoError(t, err, "handlers must be total")
	return res
}

func TestHandlersImplementCapabilities(t *testing.T) {
	for name, h := range newSuite(t).Handles() {
		_, proc := h.(domain.MessageProcessor)
		_, exec := h.(domain.TaskExecutor)
		_, health := h.(domain.HealthReporter)
		assert.True(t, proc && exec && health, "%s must expose all three capabilities", name)
	}
}

func TestRegisterSuite(t *testing.T) {
	p := a2a.New()
	require.NoError(t, newSuite(t).Register(p))
	assert.Len(t, p.Agents(), 5)
}

func TestProductDiscoverySearch(t *testing.T) {
	s := newSuite(t)
	res := process(t, s.ProductDiscovery, "Show me sunglasses under $20", "s1")
	assert.Empty(t, res.ErrorText())
	assert.Equal(t, 1, res["count"])
	assert.Contains(t, res.Response(), "Sunglasses ($19.99)")

	res = process(t, s.ProductDiscovery, "find kitchen stuff under $10", "s1")
	assert.Equal(t, 2, res["count"])
	assert.Contains(t, res.Response(), "in kitchen under $10.00")
}

func TestProductDiscoveryNoMatch(t *testing.T) {
	res := process(t, newSuite(t).ProductDiscovery, "show me footwear under $5", "s1")
	assert.Equal(t, 0, res["count"])
	assert.Contains(t, res.Response(), "couldn't find")
}

func TestProductDiscoveryFollowUpUsesFocus(t *testing.T) {
	s := newSuite(t)
	process(t, s.ProductDiscovery, "show me kitchen items under $6", "s1")

	res := process(t, s.ProductDiscovery, "yes, tell me more", "s1")
	assert.Contains(t, res.Response(), "Bamboo Glass Jar costs $5.49")
}

func TestProductDiscoveryExecuteTask(t *testing.T) {
	s := newSuite(t)
	res := execute(t, s.ProductDiscovery, domain.Payload{
		"session_id": "s1",
		"parameters": map[string]any{domain.ParamCategory: "accessories", domain.ParamMaxPrice: 50.0},
	})
	assert.Equal(t, 1, res["count"])

	res = execute(t, s.ProductDiscovery, domain.Payload{
		"session_id":  "s1",
		"intent_type": string(domain.IntentProductDetails),
		"parameters":  map[string]any{domain.ParamProductName: "Watch"},
	})
	assert.Contains(t, res.Response(), "Watch costs $109.99")
}

func TestEstimate(t *testing.T) {
	mug := domain.Product{Name: "Mug", PriceUSD: 8.99, Categories: []string{"kitchen"}}
	f := Estimate(mug, false)
	assert.Equal(t, 0.18, f.MassKg)
	assert.Equal(t, 0.9, f.Manufacturing)
	assert.Zero(t, f.Shipping)
	assert.Equal(t, "low", f.Rating)

	f = Estimate(mug, true)
	assert.Equal(t, 0.09, f.Shipping)
	assert.Equal(t, 0.99, f.Total)

	watch := domain.Product{Name: "Watch", PriceUSD: 109.99, Categories: []string{"accessories"}}
	f = Estimate(watch, false)
	assert.Equal(t, 2.2, f.MassKg)
	assert.Equal(t, "high", f.Rating)

	odd := domain.Product{Name: "Thing", PriceUSD: 1, Categories: []string{"unknown"}}
	assert.Equal(t, 0.1, Estimate(odd, false).MassKg, "mass is clamped from below")
}

func TestCO2Calculator(t *testing.T) {
	s := newSuite(t)
	res := process(t, s.CO2Calculator, "what is the carbon footprint of the mug with shipping", "s1")
	assert.Empty(t, res.ErrorText())
	assert.Contains(t, res.Response(), "Mug: about 0.99 kg CO2e")

	res = process(t, s.CO2Calculator, "compare emissions of the watch vs the mug", "s1")
	assert.Equal(t, "Mug", res["greenest"])

	res = process(t, s.CO2Calculator, "carbon footprint please", "fresh")
	assert.NotEmpty(t, res.ErrorText(), "no product and no focus is a handler-level error")
	assert.NotEmpty(t, res.Response())
}

func TestCO2CalculatorCart(t *testing.T) {
	s := newSuite(t)
	process(t, s.CartManager, "add 2 mugs to my cart", "s1")
	res := process(t, s.CO2Calculator, "what's the carbon footprint of my cart", "s1")
	assert.Equal(t, 1.8, res["total_kg"])

	res = process(t, s.CO2Calculator, "footprint of my cart", "empty")
	assert.Equal(t, domain.ErrEmptyCart.Error(), res.ErrorText())
}

func TestCartManager(t *testing.T) {
	s := newSuite(t)
	cm := s.CartManager

	res := process(t, cm, "add 2 mugs to my cart", "s1")
	assert.Contains(t, res.Response(), "Added 2 × Mug")
	assert.Equal(t, 17.98, res["total"])

	process(t, cm, "add the sunglasses", "s1")
	assert.Len(t, s.Carts().Items("s1"), 2)

	res = process(t, cm, "remove the mug from my cart", "s1")
	assert.Contains(t, res.Response(), "Removed Mug")
	assert.Equal(t, 19.99, res["total"])

	res = process(t, cm, "remove the watch from my cart", "s1")
	assert.NotEmpty(t, res.ErrorText())

	res = process(t, cm, "show my cart", "s1")
	assert.Contains(t, res.Response(), "1 × Sunglasses")

	res = process(t, cm, "clear my cart", "s1")
	assert.Contains(t, res.Response(), "empty")
	assert.Empty(t, s.Carts().Items("s1"))
}

func TestCartManagerAddUsesFocus(t *testing.T) {
	s := newSuite(t)
	process(t, s.ProductDiscovery, "tell me about the hairdryer", "s1")
	res := process(t, s.CartManager, "add it to my cart", "s1")
	assert.Contains(t, res.Response(), "Hairdryer")
}

func TestCartManagerExecuteTask(t *testing.T) {
	s := newSuite(t)
	res := execute(t, s.CartManager, domain.Payload{
		"session_id": "s1",
		"parameters": map[string]any{domain.ParamOperation: "add", domain.ParamProductName: "Loafers", "quantity": 3.0},
	})
	assert.Equal(t, 269.97, res["total"])

	res = execute(t, s.CartManager, domain.Payload{"parameters": map[string]any{}})
	assert.NotEmpty(t, res.ErrorText(), "missing session id")
}

func TestCheckout(t *testing.T) {
	s := newSuite(t)
	res := process(t, s.Checkout, "checkout", "s1")
	assert.Equal(t, domain.ErrEmptyCart.Error(), res.ErrorText())

	process(t, s.CartManager, "add the mug", "s1")
	res = process(t, s.Checkout, "checkout please", "s1")
	require.Empty(t, res.ErrorText())
	assert.True(t, strings.HasPrefix(res["order_id"].(string), "ord_"))
	assert.Equal(t, 8.99, res["subtotal"])
	assert.Equal(t, 5.99, res["shipping"])
	assert.Equal(t, 14.98, res["total"])
	assert.Empty(t, s.Carts().Items("s1"), "checkout clears the cart")

	process(t, s.CartManager, "add the watch", "s2")
	res = execute(t, s.Checkout, domain.Payload{"session_id": "s2"})
	assert.Equal(t, 0.0, res["shipping"], "free shipping over $75")
}

func TestComparison(t *testing.T) {
	s := newSuite(t)
	res := process(t, s.Comparison, "compare the mug vs the jar", "s1")
	require.Empty(t, res.ErrorText())
	assert.Equal(t, "Bamboo Glass Jar", res["cheapest"])
	assert.Contains(t, res.Response(), "Comparing Mug and Bamboo Glass Jar")

	res = process(t, s.Comparison, "compare the mug", "fresh")
	assert.NotEmpty(t, res.ErrorText())

	res = execute(t, s.Comparison, domain.Payload{
		"session_id": "s3",
		"parameters": map[string]any{domain.ParamProducts: []any{"Watch", "Sunglasses"}},
	})
	assert.Equal(t, "Sunglasses", res["cheapest"])
	assert.Equal(t, "Sunglasses", res["greenest"])
}

func TestHealth(t *testing.T) {
	s := newSuite(t)
	state, err := s.Checkout.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, state)

	d := NewSuite(degradedCatalog{catalog.New(config.CatalogConfig{}, nil)}, Config{}, nil)
	state, _ = d.ProductDiscovery.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthDegraded, state)
}

func TestSafeRecoversPanics(t *testing.T) {
	s := newSuite(t)
	res := s.ProductDiscovery.safe("x", func() domain.Result { panic("boom") })
	assert.Contains(t, res.ErrorText(), "boom")
	assert.NotEmpty(t, res.Response())
}
