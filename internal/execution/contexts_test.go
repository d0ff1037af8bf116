package execution

import (
	"testing"

	"github.com/shopspring/decimal"
)

func newTestSpec() *OrderSpec {
	return &OrderSpec{
		Venue:       newMockVenue("alpha"),
		Symbol:      "BTC-PERP",
		Side:        SideBuy,
		SizeUSD:     decimal.NewFromInt(1000),
		Quantity:    decimal.NewFromInt(10),
		HasQuantity: true,
	}
}

func TestRecordFillAccumulatesAndCapsUSD(t *testing.T) {
	octx := NewOrderContext(newTestSpec())

	octx.RecordFill(decimal.NewFromInt(4), decimal.NewFromInt(100))
	if !octx.FilledQuantity().Equal(decimal.NewFromInt(4)) {
		t.Fatalf("filled quantity = %s, want 4", octx.FilledQuantity())
	}
	if !octx.FilledUSD().Equal(decimal.NewFromInt(400)) {
		t.Fatalf("filled usd = %s, want 400", octx.FilledUSD())
	}

	// A fill that would push notional above SizeUSD is capped.
	octx.RecordFill(decimal.NewFromInt(20), decimal.NewFromInt(100))
	if !octx.FilledUSD().Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("filled usd = %s, want capped at 1000", octx.FilledUSD())
	}
}

func TestRecordFillRejectsNonPositive(t *testing.T) {
	octx := NewOrderContext(newTestSpec())

	octx.RecordFill(decimal.Zero, decimal.NewFromInt(100))
	octx.RecordFill(decimal.NewFromInt(-1), decimal.NewFromInt(100))

	if !octx.FilledQuantity().IsZero() {
		t.Fatalf("filled quantity = %s, want 0 after non-positive fills", octx.FilledQuantity())
	}
}

func TestRemainingQuantityUsesHedgeTargetWhenSet(t *testing.T) {
	octx := NewOrderContext(newTestSpec())
	octx.RecordFill(decimal.NewFromInt(3), decimal.NewFromInt(100))

	if !octx.RemainingQuantity().Equal(decimal.NewFromInt(7)) {
		t.Fatalf("remaining = %s, want 7 before hedge target", octx.RemainingQuantity())
	}

	octx.SetHedgeTarget(decimal.NewFromInt(5))
	if !octx.RemainingQuantity().Equal(decimal.NewFromInt(2)) {
		t.Fatalf("remaining = %s, want 2 after hedge target", octx.RemainingQuantity())
	}
}

func TestRemainingQuantityNeverNegative(t *testing.T) {
	octx := NewOrderContext(newTestSpec())
	octx.RecordFill(decimal.NewFromInt(15), decimal.NewFromInt(100))

	if !octx.RemainingQuantity().IsZero() {
		t.Fatalf("remaining = %s, want 0 when overfilled", octx.RemainingQuantity())
	}
}

func TestSanityCapUsesHedgeTargetOverSpecQuantity(t *testing.T) {
	octx := NewOrderContext(newTestSpec())

	if !octx.SanityCap().Equal(decimal.NewFromFloat(11)) {
		t.Fatalf("sanity cap = %s, want 11 (10 * 1.10)", octx.SanityCap())
	}

	octx.SetHedgeTarget(decimal.NewFromInt(20))
	if !octx.SanityCap().Equal(decimal.NewFromFloat(22)) {
		t.Fatalf("sanity cap = %s, want 22 (20 * 1.10) after hedge target", octx.SanityCap())
	}
}

func TestOnWebsocketStatusCanceledRecordsFinalFillAndFlag(t *testing.T) {
	octx := NewOrderContext(newTestSpec())
	octx.RecordFill(decimal.NewFromInt(2), decimal.NewFromInt(100))

	octx.OnWebsocketStatus(OrderStatusCanceled, decimal.NewFromInt(6), decimal.NewFromInt(101))

	if !octx.WebsocketCancelled() {
		t.Fatalf("expected websocket_cancelled to be true")
	}
	if !octx.FilledQuantity().Equal(decimal.NewFromInt(6)) {
		t.Fatalf("filled quantity = %s, want 6 after CANCELED catch-up", octx.FilledQuantity())
	}
	reported, ok := octx.WebsocketReportedFilled()
	if !ok || !reported.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("websocket reported filled = %s/%v, want 6/true", reported, ok)
	}
}

func TestOnWebsocketStatusCanceledZeroDoesNotRetroactivelyFill(t *testing.T) {
	octx := NewOrderContext(newTestSpec())

	// CANCELED with filled_size=0 is the anti-spoof case: no fill should
	// be recorded since totalFilled (0) does not exceed current (0).
	octx.OnWebsocketStatus(OrderStatusCanceled, decimal.Zero, decimal.Zero)

	if !octx.FilledQuantity().IsZero() {
		t.Fatalf("filled quantity = %s, want 0", octx.FilledQuantity())
	}
	if !octx.WebsocketCancelled() {
		t.Fatalf("expected websocket_cancelled to be true even with zero fill")
	}
}

func TestResetFillsZeroesAccumulatedState(t *testing.T) {
	octx := NewOrderContext(newTestSpec())
	octx.RecordFill(decimal.NewFromInt(5), decimal.NewFromInt(100))

	octx.ResetFills()

	if !octx.FilledQuantity().IsZero() || !octx.FilledUSD().IsZero() {
		t.Fatalf("expected fills zeroed, got qty=%s usd=%s", octx.FilledQuantity(), octx.FilledUSD())
	}
}
