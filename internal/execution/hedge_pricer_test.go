package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestPriceProvider(t *testing.T) *PriceProvider {
	t.Helper()
	p, err := NewPriceProvider(&PriceProviderConfig{})
	if err != nil {
		t.Fatalf("create price provider: %v", err)
	}
	return p
}

func TestCalculateAggressiveLimitPriceBreakEvenWhenFeasible(t *testing.T) {
	venue := newMockVenue("beta")
	venue.bid = decimal.NewFromFloat(99.9)
	venue.ask = decimal.NewFromFloat(100.1)

	pricer := NewHedgePricer(newTestPriceProvider(t))

	// Trigger leg bought at 100 on the sibling venue; hedge sells here.
	// Break-even sell target is slightly above 100, which is not below bid and
	// within the default deviation band, so it should be chosen over bid/ask.
	result, err := pricer.CalculateAggressiveLimitPrice(context.Background(), venue, "BTC-PERP", SideSell, SideBuy, decimal.NewFromInt(100), 0, 3, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PricingStrategy != pricingStrategyBreakEven {
		t.Fatalf("strategy = %s, want break_even", result.PricingStrategy)
	}
}

func TestCalculateAggressiveLimitPriceFallsBackWhenDeviationExceeded(t *testing.T) {
	venue := newMockVenue("beta")
	venue.bid = decimal.NewFromFloat(80)
	venue.ask = decimal.NewFromFloat(80.1)

	pricer := NewHedgePricer(newTestPriceProvider(t))

	// Trigger fill at 100 is far from the current 80 market, so break-even
	// is infeasible and pricing should fall back to inside-spread.
	result, err := pricer.CalculateAggressiveLimitPrice(context.Background(), venue, "BTC-PERP", SideSell, SideBuy, decimal.NewFromInt(100), 0, 3, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PricingStrategy != pricingStrategyInsideSpread {
		t.Fatalf("strategy = %s, want inside_spread", result.PricingStrategy)
	}
}

func TestCalculateAggressiveLimitPriceUsesTouchAfterInsideTickRetriesExhausted(t *testing.T) {
	venue := newMockVenue("beta")
	venue.bid = decimal.NewFromFloat(99.9)
	venue.ask = decimal.NewFromFloat(100.1)

	pricer := NewHedgePricer(newTestPriceProvider(t))

	// No trigger price at all (zero), and retryCount past insideTickRetries.
	result, err := pricer.CalculateAggressiveLimitPrice(context.Background(), venue, "BTC-PERP", SideBuy, SideSell, decimal.Zero, 5, 3, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PricingStrategy != pricingStrategyTouch {
		t.Fatalf("strategy = %s, want touch", result.PricingStrategy)
	}
	if !result.LimitPrice.Equal(venue.ask) {
		t.Fatalf("touch price = %s, want ask %s for buy side", result.LimitPrice, venue.ask)
	}
}

func TestCalculateAggressiveLimitPriceErrorsOnInvalidBBO(t *testing.T) {
	venue := newMockVenue("beta")
	venue.bid = decimal.Zero
	venue.ask = decimal.Zero

	pricer := NewHedgePricer(newTestPriceProvider(t))

	_, err := pricer.CalculateAggressiveLimitPrice(context.Background(), venue, "BTC-PERP", SideBuy, SideSell, decimal.Zero, 0, 3, decimal.Zero)
	if err == nil {
		t.Fatalf("expected an error for zero bid/ask")
	}
}
