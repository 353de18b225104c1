package agents

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"shopassist/internal/domain"
)

const (
	flatShippingUSD  = 5.99
	freeShippingOver = 75.0
	orderIDPrefix    = "ord_"
)

// Checkout turns a session's cart into an order.
type Checkout struct {
	*deps
	now func() time.Time
}

// ProcessMessage implements domain.MessageProcessor.
func (a *Checkout) ProcessMessage(_ context.Context, _, sessionID string) (domain.Result, error) {
	return a.safe(domain.AgentCheckout, func() domain.Result {
		return a.checkout(sessionID)
	}), nil
}

// ExecuteTask implements domain.TaskExecutor.
func (a *Checkout) ExecuteTask(_ context.Context, task domain.Payload) (domain.Result, error) {
	return a.safe(domain.AgentCheckout, func() domain.Result {
		return a.checkout(task.String("session_id"))
	}), nil
}

// HealthCheck implements domain.HealthReporter.
func (a *Checkout) HealthCheck(context.Context) (domain.HealthState, error) {
	return a.health(), nil
}

func (a *Checkout) checkout(sessionID string) domain.Result {
	items := a.carts.Clear(sessionID)
	if len(items) == 0 {
		return failure(domain.ErrEmptyCart.Error(),
			"Your cart is empty. Add something first, for example \"add the mug to my cart\".")
	}

	subtotal := round2(total(items))
	shipping := flatShippingUSD
	if subtotal >= freeShippingOver {
		shipping = 0
	}
	grand := round2(subtotal + shipping)
	orderID := orderIDPrefix + newOrderID(a.now())

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s confirmed:", orderID)
	for _, it := range items {
		fmt.Fprintf(&b, "\n- %d × %s (%s)", it.Quantity, it.Name, money(it.Subtotal()))
	}
	fmt.Fprintf(&b, "\nSubtotal %s, shipping %s, total %s.", money(subtotal), money(shipping), money(grand))

	a.logger.Info("order placed", "order_id", orderID, "session_id", sessionID, "total", grand)
	return domain.Result{
		"response": b.String(),
		"order_id": orderID,
		"items":    items,
		"subtotal": subtotal,
		"shipping": shipping,
		"total":    grand,
	}
}

func newOrderID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
