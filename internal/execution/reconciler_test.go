package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestReconcileNoOpWhenOrderIDEmpty(t *testing.T) {
	octx := NewOrderContext(newTestSpec())
	venue := newMockVenue("alpha")

	NewReconciler(zap.NewNop()).Reconcile(context.Background(), venue, "", octx)

	if !octx.FilledQuantity().IsZero() {
		t.Fatalf("expected no fill recorded without an order id")
	}
}

func TestReconcileNoOpWhenWebsocketAlreadyCancelled(t *testing.T) {
	octx := NewOrderContext(newTestSpec())
	octx.OnWebsocketStatus(OrderStatusCanceled, decimal.NewFromInt(3), decimal.NewFromInt(100))

	venue := newMockVenue("alpha")
	venue.fillOnPlace = false
	result, _ := venue.place(decimal.NewFromInt(10), decimal.NewFromInt(100), SideBuy)
	venue.orders[result.OrderID].Status = OrderStatusCanceled
	venue.orders[result.OrderID].FilledSize = decimal.NewFromInt(9)

	NewReconciler(zap.NewNop()).Reconcile(context.Background(), venue, result.OrderID, octx)

	if !octx.FilledQuantity().Equal(decimal.NewFromInt(3)) {
		t.Fatalf("filled quantity = %s, want 3 (websocket-reported value preserved)", octx.FilledQuantity())
	}
}

func TestReconcileAntiSpoofRejectsSuspiciousFullCancel(t *testing.T) {
	spec := newTestSpec() // quantity 10
	octx := NewOrderContext(spec)

	venue := spec.Venue.(*mockVenue)
	venue.fillOnPlace = false
	result, _ := venue.place(decimal.NewFromInt(10), decimal.NewFromInt(100), SideBuy)
	// Venue reports CANCELED with filled ~= size, remaining ~= 0: classic spoof pattern.
	venue.orders[result.OrderID].Status = OrderStatusCanceled
	venue.orders[result.OrderID].FilledSize = decimal.NewFromInt(10)
	venue.orders[result.OrderID].RemainingSize = decimal.Zero

	NewReconciler(zap.NewNop()).Reconcile(context.Background(), venue, result.OrderID, octx)

	if !octx.FilledQuantity().IsZero() {
		t.Fatalf("anti-spoof should reject the reported fill, got %s", octx.FilledQuantity())
	}
}

func TestReconcileAppliesGenuineCancelFill(t *testing.T) {
	spec := newTestSpec()
	octx := NewOrderContext(spec)

	venue := spec.Venue.(*mockVenue)
	venue.fillOnPlace = false
	result, _ := venue.place(decimal.NewFromInt(10), decimal.NewFromInt(100), SideBuy)
	// Partial genuine fill: 4 out of 10, not within anti-spoof tolerance.
	venue.orders[result.OrderID].Status = OrderStatusCanceled
	venue.orders[result.OrderID].FilledSize = decimal.NewFromInt(4)
	venue.orders[result.OrderID].RemainingSize = decimal.NewFromInt(6)
	venue.orders[result.OrderID].Price = decimal.NewFromInt(100)

	NewReconciler(zap.NewNop()).Reconcile(context.Background(), venue, result.OrderID, octx)

	if !octx.FilledQuantity().Equal(decimal.NewFromInt(4)) {
		t.Fatalf("filled quantity = %s, want 4", octx.FilledQuantity())
	}
}

func TestReconcileSanityCapRejectsRunawayFill(t *testing.T) {
	spec := newTestSpec() // quantity 10, sanity cap 11
	octx := NewOrderContext(spec)

	venue := spec.Venue.(*mockVenue)
	venue.fillOnPlace = false
	result, _ := venue.place(decimal.NewFromInt(10), decimal.NewFromInt(100), SideBuy)
	venue.orders[result.OrderID].Status = OrderStatusFilled
	venue.orders[result.OrderID].FilledSize = decimal.NewFromInt(20)
	venue.orders[result.OrderID].RemainingSize = decimal.Zero
	venue.orders[result.OrderID].Price = decimal.NewFromInt(100)

	NewReconciler(zap.NewNop()).Reconcile(context.Background(), venue, result.OrderID, octx)

	if !octx.FilledQuantity().IsZero() {
		t.Fatalf("sanity cap should reject a fill exceeding 1.10x target, got %s", octx.FilledQuantity())
	}
}
