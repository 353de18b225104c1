package agents

import (
	"context"
	"fmt"
	"strings"

	"shopassist/internal/domain"
	"shopassist/internal/usecase/intent"
)

// Comparison compares two or more products by price and footprint.
type Comparison struct{ *deps }

// ProcessMessage implements domain.MessageProcessor.
func (a *Comparison) ProcessMessage(ctx context.Context, message, sessionID string) (domain.Result, error) {
	return a.safe(domain.AgentComparison, func() domain.Result {
		products, _ := a.mentioned(ctx, message, sessionID)
		return a.compare(sessionID, products, intent.IncludesShipping(message))
	}), nil
}

// ExecuteTask implements domain.TaskExecutor.
func (a *Comparison) ExecuteTask(ctx context.Context, task domain.Payload) (domain.Result, error) {
	return a.safe(domain.AgentComparison, func() domain.Result {
		sessionID := task.String("session_id")
		p := params(task)
		products := a.products(ctx, paramStrings(p, domain.ParamProducts))
		if len(products) < 2 {
			products = a.focus.Get(sessionID)
		}
		return a.compare(sessionID, products, paramBool(p, domain.ParamIncludeShipping))
	}), nil
}

// HealthCheck implements domain.HealthReporter.
func (a *Comparison) HealthCheck(context.Context) (domain.HealthState, error) {
	return a.health(), nil
}

func (a *Comparison) compare(sessionID string, products []domain.Product, shipping bool) domain.Result {
	if len(products) < 2 {
		return failure("need at least two products to compare",
			"Which products would you like me to compare? For example: \"compare the mug vs the jar\".")
	}
	a.focus.Set(sessionID, products)

	rows := make([]map[string]any, len(products))
	cheapest, greenest := 0, 0
	footprints := make([]Footprint, len(products))
	for i, p := range products {
		footprints[i] = Estimate(p, shipping)
		rows[i] = map[string]any{
			"name":      p.Name,
			"price_usd": p.PriceUSD,
			"co2_kg":    footprints[i].Total,
		}
		if p.PriceUSD < products[cheapest].PriceUSD {
			cheapest = i
		}
		if footprints[i].Total < footprints[greenest].Total {
			greenest = i
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Comparing %s:", joinNames(products))
	for i, p := range products {
		fmt.Fprintf(&b, "\n- %s: %s, about %.2f kg CO2e", p.Name, money(p.PriceUSD), footprints[i].Total)
	}
	fmt.Fprintf(&b, "\nThe %s is the cheapest", products[cheapest].Name)
	if greenest == cheapest {
		b.WriteString(" and the greenest.")
	} else {
		fmt.Fprintf(&b, "; the %s has the smallest footprint.", products[greenest].Name)
	}

	return domain.Result{
		"response":   b.String(),
		"comparison": rows,
		"cheapest":   products[cheapest].Name,
		"greenest":   products[greenest].Name,
	}
}
