package agents

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"shopassist/internal/domain"
)

const (
	defaultStoreSessions = 1000
	defaultStoreTTL      = time.Hour
)

func storeBounds(maxSessions int, ttl time.Duration) (int, time.Duration) {
	if maxSessions <= 0 {
		maxSessions = defaultStoreSessions
	}
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}
	return maxSessions, ttl
}

// CartStore holds one cart per session.
type CartStore struct {
	mu    sync.Mutex
	carts *expirable.LRU[string, []domain.CartItem]
}

// NewCartStore creates a cart store bounded like the session store.
func NewCartStore(maxSessions int, ttl time.Duration) *CartStore {
	n, d := storeBounds(maxSessions, ttl)
	return &CartStore{carts: expirable.NewLRU[string, []domain.CartItem](n, nil, d)}
}

// Add puts qty of p in the session's cart and returns the resulting line.
func (s *CartStore) Add(sessionID string, p domain.Product, qty int) domain.CartItem {
	if qty <= 0 {
		qty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _ := s.carts.Get(sessionID)
	items = append([]domain.CartItem(nil), items...)
	for i := range items {
		if items[i].ProductID == p.ID {
			items[i].Quantity += qty
			s.carts.Add(sessionID, items)
			return items[i]
		}
	}
	line := domain.CartItem{ProductID: p.ID, Name: p.Name, Quantity: qty, UnitPrice: p.PriceUSD}
	s.carts.Add(sessionID, append(items, line))
	return line
}

// Remove deletes productID from the cart. It reports whether it was there.
func (s *CartStore) Remove(sessionID, productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _ := s.carts.Get(sessionID)
	kept := make([]domain.CartItem, 0, len(items))
	found := false
	for _, it := range items {
		if it.ProductID == productID {
			found = true
			continue
		}
		kept = append(kept, it)
	}
	if found {
		s.carts.Add(sessionID, kept)
	}
	return found
}

// Clear empties the cart and returns what it held.
func (s *CartStore) Clear(sessionID string) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _ := s.carts.Get(sessionID)
	s.carts.Remove(sessionID)
	return items
}

// Items returns a copy of the cart.
func (s *CartStore) Items(sessionID string) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _ := s.carts.Get(sessionID)
	return append([]domain.CartItem(nil), items...)
}

// Total sums the cart.
func (s *CartStore) Total(sessionID string) float64 {
	return total(s.Items(sessionID))
}

func total(items []domain.CartItem) float64 {
	var t float64
	for _, it := range items {
		t += it.Subtotal()
	}
	return t
}

// FocusStore remembers the products last shown to each session so that a
// follow-up like "tell me more" can be resolved.
type FocusStore struct {
	lru *expirable.LRU[string, []domain.Product]
}

// NewFocusStore creates a focus store.
func NewFocusStore(maxSessions int, ttl time.Duration) *FocusStore {
	n, d := storeBounds(maxSessions, ttl)
	return &FocusStore{lru: expirable.NewLRU[string, []domain.Product](n, nil, d)}
}

// Set replaces the session's focus. Empty lists and session ids are ignored.
func (s *FocusStore) Set(sessionID string, products []domain.Product) {
	if sessionID == "" || len(products) == 0 {
		return
	}
	s.lru.Add(sessionID, append([]domain.Product(nil), products...))
}

// Get returns the session's focus, or nil.
func (s *FocusStore) Get(sessionID string) []domain.Product {
	p, _ := s.lru.Get(sessionID)
	return p
}
