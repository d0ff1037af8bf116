// Package execution implements the atomic multi-leg order execution
// engine: given a batch of correlated OrderSpecs (typically a long leg on
// one venue and a short leg on another), it drives them to one of two
// terminal outcomes — fully balanced fills within tolerance, or no net
// exposure, with any residual position forcibly closed.
package execution

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ExecutionMode selects the per-leg placement strategy.
type ExecutionMode string

const (
	ModeLimitOnly        ExecutionMode = "limit_only"
	ModeLimitWithFallback ExecutionMode = "limit_with_fallback"
	ModeMarketOnly        ExecutionMode = "market_only"
	ModeAdaptive          ExecutionMode = "adaptive"
)

// OrderSpec is the immutable input describing one leg of an atomic batch.
type OrderSpec struct {
	Venue                 VenueClient
	Symbol                string
	Side                  Side
	SizeUSD               decimal.Decimal
	Quantity              decimal.Decimal // optional; zero means "derive from SizeUSD/reference price"
	HasQuantity           bool
	ExecutionMode         ExecutionMode
	TimeoutSeconds        float64
	LimitPriceOffsetPct   decimal.Decimal
	HasLimitPriceOffset   bool
	ReduceOnly            bool
}

// EffectiveQuantity returns the spec's explicit quantity if present,
// otherwise derives it from SizeUSD / referencePrice.
func (s *OrderSpec) EffectiveQuantity(referencePrice decimal.Decimal) decimal.Decimal {
	if s.HasQuantity {
		return s.Quantity
	}
	if referencePrice.IsZero() {
		return decimal.Zero
	}
	return s.SizeUSD.Div(referencePrice)
}

func (s *OrderSpec) String() string {
	return fmt.Sprintf("%s %s %s size_usd=%s qty=%s mode=%s reduce_only=%v",
		s.Venue.Name(), s.Symbol, s.Side, s.SizeUSD, s.Quantity, s.ExecutionMode, s.ReduceOnly)
}

// Cancellation reason taxonomy, case-insensitive matching is
// applied by ClassifyCancelReason.
const (
	ReasonRetryablePostOnly = "retryable_post_only"
	ReasonMarketFallback    = "market_fallback"
	ReasonRetryableExpired  = "retryable_expired"
	ReasonFatal             = "fatal"
)

var postOnlyKeywords = []string{"post_only", "post-only", "gtx"}
var slippageKeywords = []string{
	"exceeds_max_slippage", "max_slippage", "slippage",
	"insufficient_liquidity", "price_impact_too_high",
}
var expiredKeywords = []string{"expired", "did_not_remain_open"}

// ClassifyCancelReason maps a venue-reported cancellation reason to the
// retryable/fatal taxonomy, matching case-insensitively and by substring.
func ClassifyCancelReason(reason string) string {
	lower := strings.ToLower(reason)
	for _, kw := range postOnlyKeywords {
		if strings.Contains(lower, kw) {
			return ReasonRetryablePostOnly
		}
	}
	for _, kw := range slippageKeywords {
		if strings.Contains(lower, kw) {
			return ReasonMarketFallback
		}
	}
	for _, kw := range expiredKeywords {
		if strings.Contains(lower, kw) {
			return ReasonRetryableExpired
		}
	}
	return ReasonFatal
}
