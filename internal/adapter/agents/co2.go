package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"shopassist/internal/domain"
	"shopassist/internal/usecase/intent"
)

// Manufacturing emission factors, kg CO2e per kg of product, by category.
var categoryFactors = map[string]float64{
	"accessories": 12.0,
	"clothing":    15.0,
	"tops":        15.0,
	"footwear":    14.0,
	"hair":        20.0,
	"beauty":      20.0,
	"decor":       6.0,
	"home":        6.0,
	"kitchen":     5.0,
}

const (
	defaultFactor     = 8.0
	kgPerDollar       = 0.02
	minMassKg         = 0.1
	maxMassKg         = 3.0
	shippingKgPerKg   = 0.5
	lowFootprintKg    = 2.0
	mediumFootprintKg = 8.0
)

// Footprint is the estimated emissions of one product.
type Footprint struct {
	Product       string  `json:"product"`
	MassKg        float64 `json:"mass_kg"`
	Manufacturing float64 `json:"manufacturing_kg"`
	Shipping      float64 `json:"shipping_kg"`
	Total         float64 `json:"total_kg"`
	Rating        string  `json:"rating"`
}

// Estimate computes p's footprint: the highest category factor times a
// price-derived mass, plus shipping when asked.
func Estimate(p domain.Product, includeShipping bool) Footprint {
	factor := 0.0
	for _, c := range p.Categories {
		factor = math.Max(factor, categoryFactors[c])
	}
	if factor == 0 {
		factor = defaultFactor
	}
	mass := math.Min(math.Max(p.PriceUSD*kgPerDollar, minMassKg), maxMassKg)

	f := Footprint{
		Product:       p.Name,
		MassKg:        round2(mass),
		Manufacturing: round2(factor * mass),
	}
	if includeShipping {
		f.Shipping = round2(mass * shippingKgPerKg)
	}
	f.Total = round2(f.Manufacturing + f.Shipping)
	switch {
	case f.Total < lowFootprintKg:
		f.Rating = "low"
	case f.Total < mediumFootprintKg:
		f.Rating = "medium"
	default:
		f.Rating = "high"
	}
	return f
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// CO2Calculator estimates product and cart emissions.
type CO2Calculator struct{ *deps }

// ProcessMessage implements domain.MessageProcessor.
func (a *CO2Calculator) ProcessMessage(ctx context.Context, message, sessionID string) (domain.Result, error) {
	return a.safe(domain.AgentCO2Calculator, func() domain.Result {
		shipping := intent.IncludesShipping(message)
		if strings.Contains(strings.ToLower(message), "cart") {
			return a.cart(ctx, sessionID, shipping)
		}
		products, _ := a.mentioned(ctx, message, sessionID)
		return a.estimate(sessionID, products, shipping, intent.ComparisonMode(message))
	}), nil
}

// ExecuteTask implements domain.TaskExecutor.
func (a *CO2Calculator) ExecuteTask(ctx context.Context, task domain.Payload) (domain.Result, error) {
	return a.safe(domain.AgentCO2Calculator, func() domain.Result {
		sessionID := task.String("session_id")
		p := params(task)
		named := paramStrings(p, domain.ParamProducts)
		if n := paramString(p, domain.ParamProductName); n != "" {
			named = append(named, n)
		}
		products := a.products(ctx, named)
		if len(products) == 0 {
			products = a.focus.Get(sessionID)
		}
		return a.estimate(sessionID, products,
			paramBool(p, domain.ParamIncludeShipping), paramBool(p, domain.ParamComparisonMode))
	}), nil
}

// HealthCheck implements domain.HealthReporter.
func (a *CO2Calculator) HealthCheck(context.Context) (domain.HealthState, error) {
	return a.health(), nil
}

func (a *CO2Calculator) estimate(sessionID string, products []domain.Product, shipping, compare bool) domain.Result {
	if len(products) == 0 {
		return failure("no product specified",
			"Which product would you like the carbon footprint for? For example: \"CO2 impact of the mug\".")
	}
	a.focus.Set(sessionID, products)

	footprints := make([]Footprint, len(products))
	var b strings.Builder
	for i, p := range products {
		f := Estimate(p, shipping)
		footprints[i] = f
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: about %.2f kg CO2e (%s impact)", f.Product, f.Total, f.Rating)
		if shipping {
			fmt.Fprintf(&b, ", including %.2f kg from shipping", f.Shipping)
		}
		b.WriteString(".")
	}

	res := domain.Result{"footprints": footprints, "include_shipping": shipping, "comparison_mode": compare}
	if len(footprints) > 1 {
		best := footprints[0]
		for _, f := range footprints[1:] {
			if f.Total < best.Total {
				best = f
			}
		}
		fmt.Fprintf(&b, "\nThe %s is the greener choice.", best.Product)
		res["greenest"] = best.Product
	} else if compare {
		b.WriteString("\nName a second product and I can compare them.")
	}
	res["response"] = b.String()
	return res
}

func (a *CO2Calculator) cart(ctx context.Context, sessionID string, shipping bool) domain.Result {
	items := a.carts.Items(sessionID)
	if len(items) == 0 {
		return failure(domain.ErrEmptyCart.Error(), "Your cart is empty, so there is nothing to calculate yet.")
	}
	var totalKg float64
	for _, it := range items {
		p, ok := a.catalog.Get(ctx, it.ProductID)
		if !ok {
			p = domain.Product{Name: it.Name, PriceUSD: it.UnitPrice}
		}
		totalKg += Estimate(p, shipping).Total * float64(it.Quantity)
	}
	totalKg = round2(totalKg)
	return domain.Result{
		"response": fmt.Sprintf("Your cart's estimated footprint is %.2f kg CO2e.", totalKg),
		"total_kg": totalKg,
	}
}
