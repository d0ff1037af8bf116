package execution

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifyCancelReason(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		want   string
	}{
		{"post-only-underscore", "order rejected: post_only", ReasonRetryablePostOnly},
		{"post-only-hyphen", "POST-ONLY would cross", ReasonRetryablePostOnly},
		{"gtx-keyword", "GTX order would have matched", ReasonRetryablePostOnly},
		{"slippage-keyword", "exceeds_max_slippage for this size", ReasonMarketFallback},
		{"insufficient-liquidity", "insufficient_liquidity on book", ReasonMarketFallback},
		{"expired-keyword", "order expired before fill", ReasonRetryableExpired},
		{"did-not-remain-open", "did_not_remain_open", ReasonRetryableExpired},
		{"unknown-reason", "risk engine rejected order", ReasonFatal},
		{"empty-reason", "", ReasonFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyCancelReason(tc.reason)
			if got != tc.want {
				t.Errorf("ClassifyCancelReason(%q) = %q, want %q", tc.reason, got, tc.want)
			}
		})
	}
}

func TestOrderSpecEffectiveQuantity(t *testing.T) {
	t.Run("explicit-quantity-wins", func(t *testing.T) {
		spec := &OrderSpec{HasQuantity: true, Quantity: decimal.NewFromInt(5), SizeUSD: decimal.NewFromInt(1000)}
		got := spec.EffectiveQuantity(decimal.NewFromInt(100))
		if !got.Equal(decimal.NewFromInt(5)) {
			t.Errorf("got %s, want 5", got)
		}
	})

	t.Run("derives-from-size-usd", func(t *testing.T) {
		spec := &OrderSpec{SizeUSD: decimal.NewFromInt(1000)}
		got := spec.EffectiveQuantity(decimal.NewFromInt(100))
		if !got.Equal(decimal.NewFromInt(10)) {
			t.Errorf("got %s, want 10", got)
		}
	})

	t.Run("zero-reference-price-yields-zero", func(t *testing.T) {
		spec := &OrderSpec{SizeUSD: decimal.NewFromInt(1000)}
		got := spec.EffectiveQuantity(decimal.Zero)
		if !got.IsZero() {
			t.Errorf("got %s, want 0", got)
		}
	})
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Errorf("buy.Opposite() should be sell")
	}
	if SideSell.Opposite() != SideBuy {
		t.Errorf("sell.Opposite() should be buy")
	}
}
