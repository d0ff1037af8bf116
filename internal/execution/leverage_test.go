package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLeverageNormalizeBatchAppliesMinAcrossVenues(t *testing.T) {
	delta := newMockVenue("delta")
	delta.leverage = &LeverageInfo{MaxLeverage: decimal.NewFromInt(20), HasMaxLeverage: true}
	hl := newMockVenue("hyperliquid")
	hl.leverage = &LeverageInfo{MaxLeverage: decimal.NewFromInt(8), HasMaxLeverage: true}

	validator := NewLeverageValidator(decimal.NewFromInt(10))
	orders := []*OrderSpec{
		{Venue: delta, Symbol: "BTC-PERP", SizeUSD: decimal.NewFromInt(100)},
		{Venue: hl, Symbol: "BTC-PERP", SizeUSD: decimal.NewFromInt(100)},
	}

	checks, err := validator.NormalizeBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, check := range checks {
		if !check.OK {
			t.Fatalf("expected check to pass, got reason: %s", check.Reason)
		}
		if !check.AppliedLeverage.Equal(decimal.NewFromInt(8)) {
			t.Fatalf("expected normalized leverage 8 (min across venues), got %s", check.AppliedLeverage)
		}
	}

	cached, ok := validator.NormalizedLeverage("hyperliquid", "BTC-PERP")
	if !ok || !cached.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected cached normalized leverage 8, got %s (ok=%v)", cached, ok)
	}
}

func TestLeverageNormalizeBatchRejectsSizeExceedingMaxSize(t *testing.T) {
	venue := newMockVenue("delta")
	venue.leverage = &LeverageInfo{MaxNotional: decimal.NewFromInt(500), HasMaxNotional: true}

	validator := NewLeverageValidator(decimal.Zero)
	orders := []*OrderSpec{
		{Venue: venue, Symbol: "BTC-PERP", SizeUSD: decimal.NewFromInt(1000)},
	}

	checks, err := validator.NormalizeBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checks[0].OK {
		t.Fatalf("expected size_usd exceeding max notional to fail")
	}
}

func TestLeverageNormalizeBatchCapsByMarginRequirement(t *testing.T) {
	venue := newMockVenue("delta")
	venue.leverage = &LeverageInfo{
		MaxLeverage:       decimal.NewFromInt(20),
		HasMaxLeverage:    true,
		MarginRequirement: decimal.NewFromFloat(0.05),
		HasMargin:         true,
	}
	venue.balance = decimal.NewFromInt(40)
	venue.hasBalance = true

	validator := NewLeverageValidator(decimal.NewFromInt(20))
	orders := []*OrderSpec{
		{Venue: venue, Symbol: "BTC-PERP", SizeUSD: decimal.NewFromInt(900)},
	}

	checks, err := validator.NormalizeBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checks[0].OK {
		t.Fatalf("expected size_usd to exceed balance/margin_requirement cap of 800")
	}
}

func TestMaxAffordableSize(t *testing.T) {
	info := &LeverageInfo{MaxNotional: decimal.NewFromInt(500), HasMaxNotional: true}

	if got := MaxAffordableSize(decimal.NewFromInt(1000), info); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("got %s, want 500 (capped by max notional)", got)
	}
	if got := MaxAffordableSize(decimal.NewFromInt(100), info); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("got %s, want 100 (balance below max notional)", got)
	}
	if got := MaxAffordableSize(decimal.NewFromInt(100), nil); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("got %s, want balance verbatim when info is nil", got)
	}
}
