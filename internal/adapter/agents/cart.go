package agents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"shopassist/internal/domain"
	"shopassist/internal/usecase/intent"
)

var quantityRe = regexp.MustCompile(`(?:^|\s)(\d{1,2})(?:\s|x\b|$)`)

// quantity extracts a small integer quantity from message, defaulting to 1.
func quantity(message string) int {
	m := quantityRe.FindStringSubmatch(message)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// CartManager adds, removes, clears and shows cart contents.
type CartManager struct{ *deps }

// ProcessMessage implements domain.MessageProcessor.
func (a *CartManager) ProcessMessage(ctx context.Context, message, sessionID string) (domain.Result, error) {
	return a.safe(domain.AgentCartManager, func() domain.Result {
		op, _ := intent.CartOperation(message)
		products, _ := a.mentioned(ctx, message, sessionID)
		return a.apply(sessionID, op, products, quantity(message))
	}), nil
}

// ExecuteTask implements domain.TaskExecutor. Parameters: operation,
// product_name and an optional integer quantity.
func (a *CartManager) ExecuteTask(ctx context.Context, task domain.Payload) (domain.Result, error) {
	return a.safe(domain.AgentCartManager, func() domain.Result {
		sessionID := task.String("session_id")
		p := params(task)
		var products []domain.Product
		if name := paramString(p, domain.ParamProductName); name != "" {
			products = a.products(ctx, []string{name})
		} else {
			products = a.focus.Get(sessionID)
		}
		qty := int(paramFloat(p, "quantity"))
		return a.apply(sessionID, paramString(p, domain.ParamOperation), products, qty)
	}), nil
}

// HealthCheck implements domain.HealthReporter.
func (a *CartManager) HealthCheck(context.Context) (domain.HealthState, error) {
	return a.health(), nil
}

func (a *CartManager) apply(sessionID, op string, products []domain.Product, qty int) domain.Result {
	if sessionID == "" {
		return failure("session_id is required", "I need a session to keep your cart in.")
	}
	switch op {
	case intent.OpAdd:
		if len(products) == 0 {
			return failure(domain.ErrProductNotFound.Error(), "Which product should I add to your cart?")
		}
		p := products[0]
		line := a.carts.Add(sessionID, p, qty)
		return a.view(sessionID, fmt.Sprintf("Added %d × %s to your cart (now %d).", max(qty, 1), p.Name, line.Quantity))
	case intent.OpRemove:
		if len(products) == 0 {
			return failure(domain.ErrProductNotFound.Error(), "Which product should I remove from your cart?")
		}
		p := products[0]
		if !a.carts.Remove(sessionID, p.ID) {
			return failure(fmt.Sprintf("%s is not in the cart", p.Name), fmt.Sprintf("%s isn't in your cart.", p.Name))
		}
		return a.view(sessionID, fmt.Sprintf("Removed %s from your cart.", p.Name))
	case intent.OpClear:
		a.carts.Clear(sessionID)
		return a.view(sessionID, "Your cart is now empty.")
	default:
		return a.view(sessionID, "")
	}
}

func (a *CartManager) view(sessionID, lead string) domain.Result {
	items := a.carts.Items(sessionID)
	sum := total(items)

	var b strings.Builder
	b.WriteString(lead)
	if len(items) == 0 {
		if lead == "" {
			b.WriteString("Your cart is empty.")
		}
	} else {
		if lead != "" {
			b.WriteString("\n")
		}
		b.WriteString("Your cart:")
		for _, it := range items {
			fmt.Fprintf(&b, "\n- %d × %s (%s)", it.Quantity, it.Name, money(it.Subtotal()))
		}
		fmt.Fprintf(&b, "\nTotal: %s", money(sum))
	}
	return domain.Result{
		"response": b.String(),
		"items":    items,
		"total":    round2(sum),
	}
}
