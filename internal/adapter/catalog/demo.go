package catalog

import "shopassist/internal/domain"

// demoProducts is the built-in catalog served when no backend is configured
// and used as the fallback whenever the backend is unavailable.
var demoProducts = []domain.Product{
	{ID: "OLJCESPC7Z", Name: "Sunglasses", Description: "Add a modern touch to your outfits with these sleek aviator sunglasses.", Picture: "/static/img/products/sunglasses.jpg", PriceUSD: 19.99, Categories: []string{"accessories"}},
	{ID: "66VCHSJNUP", Name: "Tank Top", Description: "Perfectly cropped cotton tank, with a scooped neckline.", Picture: "/static/img/products/tank-top.jpg", PriceUSD: 18.99, Categories: []string{"clothing", "tops"}},
	{ID: "1YMWWN1N4O", Name: "Watch", Description: "This gold-tone stainless steel watch will work with most of your outfits.", Picture: "/static/img/products/watch.jpg", PriceUSD: 109.99, Categories: []string{"accessories"}},
	{ID: "L9ECAV7KIM", Name: "Loafers", Description: "A neat addition to your summer wardrobe.", Picture: "/static/img/products/loafers.jpg", PriceUSD: 89.99, Categories: []string{"footwear"}},
	{ID: "2ZYFJ3GM2N", Name: "Hairdryer", Description: "This lightweight hairdryer has 3 heat and speed settings.", Picture: "/static/img/products/hairdryer.jpg", PriceUSD: 24.99, Categories: []string{"hair", "beauty"}},
	{ID: "0PUK6V6EV0", Name: "Candle Holder", Description: "This small but intricate candle holder is an excellent gift.", Picture: "/static/img/products/candle-holder.jpg", PriceUSD: 18.99, Categories: []string{"decor", "home"}},
	{ID: "LS4PSXUNUM", Name: "Salt & Pepper Shakers", Description: "Add some flavor to your kitchen.", Picture: "/static/img/products/salt-and-pepper-shakers.jpg", PriceUSD: 18.49, Categories: []string{"kitchen"}},
	{ID: "9SIQT8TOJO", Name: "Bamboo Glass Jar", Description: "This bamboo glass jar can hold 57 oz (1.7 l) and is perfect for any kitchen.", Picture: "/static/img/products/bamboo-glass-jar.jpg", PriceUSD: 5.49, Categories: []string{"kitchen"}},
	{ID: "6E92ZMYYFZ", Name: "Mug", Description: "A simple mug with a mustard interior.", Picture: "/static/img/products/mug.jpg", PriceUSD: 8.99, Categories: []string{"kitchen"}},
}

// DemoProducts returns a copy of the built-in catalog.
func DemoProducts() []domain.Product {
	out := make([]domain.Product, len(demoProducts))
	copy(out, demoProducts)
	return out
}
