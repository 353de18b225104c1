package agents

import (
	"context"
	"fmt"
	"strings"

	"shopassist/internal/adapter/catalog"
	"shopassist/internal/domain"
	"shopassist/internal/usecase/intent"
)

// ProductDiscovery searches the catalog and describes single products.
type ProductDiscovery struct{ *deps }

// detailTerms mark a request for more about an already-shown product.
var detailTerms = []string{"more", "details", "detail", "about", "tell me", "describe", "yes"}

// ProcessMessage implements domain.MessageProcessor.
func (a *ProductDiscovery) ProcessMessage(ctx context.Context, message, sessionID string) (domain.Result, error) {
	return a.safe(domain.AgentProductDiscovery, func() domain.Result {
		named := a.products(ctx, a.vocab.Find(message))
		lower := strings.ToLower(message)
		wantsDetail := containsAny(lower, detailTerms)

		if len(named) == 1 && wantsDetail {
			return a.details(sessionID, named[0])
		}
		if len(named) == 0 && wantsDetail {
			if focus := a.focus.Get(sessionID); len(focus) > 0 {
				return a.details(sessionID, focus[0])
			}
		}

		q := catalog.Query{}
		q.MaxPrice, _ = intent.MaxPrice(message)
		q.Category, _ = intent.Category(message)
		if len(named) == 1 {
			q.Name = named[0].Name
		}
		return a.search(ctx, sessionID, q)
	}), nil
}

// ExecuteTask implements domain.TaskExecutor. It honours the classifier
// parameters max_price, category, product_name and follow_up.
func (a *ProductDiscovery) ExecuteTask(ctx context.Context, task domain.Payload) (domain.Result, error) {
	return a.safe(domain.AgentProductDiscovery, func() domain.Result {
		sessionID := task.String("session_id")
		p := params(task)
		name := paramString(p, domain.ParamProductName)

		if task.String("intent_type") == string(domain.IntentProductDetails) || paramBool(p, domain.ParamFollowUp) {
			if name != "" {
				if prod, ok := a.catalog.Get(ctx, name); ok {
					return a.details(sessionID, prod)
				}
			}
			if focus := a.focus.Get(sessionID); len(focus) > 0 {
				return a.details(sessionID, focus[0])
			}
		}

		return a.search(ctx, sessionID, catalog.Query{
			Name:     name,
			Category: paramString(p, domain.ParamCategory),
			MaxPrice: paramFloat(p, domain.ParamMaxPrice),
		})
	}), nil
}

// HealthCheck implements domain.HealthReporter.
func (a *ProductDiscovery) HealthCheck(context.Context) (domain.HealthState, error) {
	return a.health(), nil
}

func (a *ProductDiscovery) search(ctx context.Context, sessionID string, q catalog.Query) domain.Result {
	found := a.catalog.Search(ctx, q)
	if len(found) == 0 {
		return domain.Result{
			"response": "I couldn't find any products matching that. Try a different category or a higher budget.",
			"products": []map[string]any{},
			"count":    0,
		}
	}
	a.focus.Set(sessionID, found)

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d product", len(found))
	if len(found) != 1 {
		b.WriteString("s")
	}
	if q.Category != "" {
		fmt.Fprintf(&b, " in %s", q.Category)
	}
	if q.MaxPrice > 0 {
		fmt.Fprintf(&b, " under %s", money(q.MaxPrice))
	}
	b.WriteString(":")
	for _, p := range found {
		fmt.Fprintf(&b, "\n- %s (%s)", p.Name, money(p.PriceUSD))
	}
	b.WriteString("\nWould you like more details about any of these?")

	return domain.Result{
		"response": b.String(),
		"products": productList(found),
		"count":    len(found),
	}
}

func (a *ProductDiscovery) details(sessionID string, p domain.Product) domain.Result {
	a.focus.Set(sessionID, []domain.Product{p})
	return domain.Result{
		"response": fmt.Sprintf("%s costs %s. %s Categories: %s.",
			p.Name, money(p.PriceUSD), p.Description, strings.Join(p.Categories, ", ")),
		"products": productList([]domain.Product{p}),
		"count":    1,
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
