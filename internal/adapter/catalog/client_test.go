package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/usecase/resilience"
)

func testConfig(url string) config.CatalogConfig {
	return config.CatalogConfig{
		BaseURL:      url,
		Timeout:      time.Second,
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
		FailMax:      2,
		ResetTimeout: time.Minute,
	}
}

func TestDemoCatalogWithoutBackend(t *testing.T) {
	c := New(testConfig(""), nil)
	assert.False(t, c.Live())
	products := c.Products(context.Background())
	require.Len(t, products, 9)

	p, ok := c.Get(context.Background(), "mug")
	require.True(t, ok)
	assert.Equal(t, 8.99, p.PriceUSD)

	p, ok = c.Get(context.Background(), "OLJCESPC7Z")
	require.True(t, ok)
	assert.Equal(t, "Sunglasses", p.Name)
}

func TestSearch(t *testing.T) {
	c := New(testConfig(""), nil)
	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"by category", Query{Category: "kitchen"}, []string{"Salt & Pepper Shakers", "Bamboo Glass Jar", "Mug"}},
		{"by price", Query{MaxPrice: 10}, []string{"Bamboo Glass Jar", "Mug"}},
		{"by name", Query{Name: "sunglasses", MaxPrice: 20}, []string{"Sunglasses"}},
		{"no match", Query{Name: "sunglasses", MaxPrice: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, p := range c.Search(context.Background(), tt.q) {
				got = append(got, p.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLiveBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(productsResponse{Products: []domain.Product{
			{ID: "X1", Name: "Teapot", PriceUSD: 30, Categories: []string{"kitchen"}},
		}})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.APIKey = "secret"
	c := New(cfg, nil)

	assert.Equal(t, []string{"Teapot"}, c.Names(context.Background()))
	assert.Equal(t, 0, c.Breaker().Failures())
}

func TestBackendFailureFallsBackToDemo(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)

	products := c.Products(context.Background())
	assert.Len(t, products, 9, "fallback should serve the demo catalog")
	assert.Equal(t, int32(3), calls.Load(), "one call per retry attempt")
	assert.Equal(t, 1, c.Breaker().Failures())

	c.Products(context.Background())
	assert.True(t, c.Breaker().IsOpen(), "two exhausted calls trip fail_max=2")

	before := calls.Load()
	products = c.Products(context.Background())
	assert.Len(t, products, 9)
	assert.Equal(t, before, calls.Load(), "open breaker must not reach the backend")
}

func TestBreakerRecovers(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(productsResponse{Products: []domain.Product{{ID: "A", Name: "Live"}}})
	}))
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }
	cfg := testConfig(srv.URL)
	cfg.FailMax = 1
	cfg.ResetTimeout = time.Second
	c := New(cfg, nil, WithBreakerOptions(resilience.WithClock(clock)))

	c.Products(context.Background())
	require.True(t, c.Breaker().IsOpen())

	healthy.Store(true)
	now = now.Add(2 * time.Second)
	assert.Equal(t, []string{"Live"}, c.Names(context.Background()))
	assert.Equal(t, resilience.StateClosed, c.Breaker().State())
}

func TestFetchErrorCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	_, err := c.fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.CodeCatalogUpstream, domain.ErrorCodeOf(err))
}
