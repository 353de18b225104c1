package domain

// Product is a catalog entry as served by the storefront backend.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Picture     string   `json:"picture,omitempty"`
	PriceUSD    float64  `json:"price_usd"`
	Categories  []string `json:"categories"`
}

// HasCategory reports whether p is tagged with category.
func (p Product) HasCategory(category string) bool {
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// CartItem is one line of a session's cart.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Subtotal returns quantity × unit price.
func (c CartItem) Subtotal() float64 {
	return float64(c.Quantity) * c.UnitPrice
}
