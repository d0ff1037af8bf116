package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// defaultMaxDeviationPct is the maximum market movement tolerated before a
// break-even hedge price is abandoned in favor of BBO-adaptive pricing.
var defaultMaxDeviationPct = decimal.NewFromFloat(0.005)

// breakEvenMarginPct is the small edge added past the trigger's fill price
// so the hedge leg is strictly better than break-even, not merely equal.
var breakEvenMarginPct = decimal.NewFromFloat(0.0001)

// HedgePriceResult is the outcome of one hedge pricing attempt.
type HedgePriceResult struct {
	BestBid           decimal.Decimal
	BestAsk           decimal.Decimal
	LimitPrice        decimal.Decimal
	PricingStrategy    string // "break_even", "inside_spread", or "touch"
}

const (
	pricingStrategyBreakEven   = "break_even"
	pricingStrategyInsideSpread = "inside_spread"
	pricingStrategyTouch        = "touch"
)

// HedgePricer computes the price for each aggressive-limit hedge attempt:
// break-even relative to the trigger's fill price when feasible, otherwise
// BBO-adaptive (inside spread, then touch).
type HedgePricer struct {
	prices *PriceProvider
}

// NewHedgePricer creates a HedgePricer.
func NewHedgePricer(prices *PriceProvider) *HedgePricer {
	return &HedgePricer{prices: prices}
}

// CalculateAggressiveLimitPrice computes the limit price for one hedge
// attempt against venue/symbol/side, given the trigger leg's side and fill
// price (zero fill price means "no trigger price available").
func (p *HedgePricer) CalculateAggressiveLimitPrice(
	ctx context.Context,
	venue VenueClient,
	symbol string,
	side Side,
	triggerSide Side,
	triggerFillPrice decimal.Decimal,
	retryCount int,
	insideTickRetries int,
	maxDeviationPct decimal.Decimal,
) (*HedgePriceResult, error) {
	bid, ask, err := p.prices.GetBBO(ctx, venue, symbol)
	if err != nil {
		return nil, fmt.Errorf("hedge pricer bbo: %w", err)
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return nil, fmt.Errorf("invalid bbo for %s %s: bid=%s ask=%s", venue.Name(), symbol, bid, ask)
	}

	tickSize, ok := venue.TickSize(symbol)
	if !ok || tickSize.IsZero() {
		tickSize = ask.Mul(decimal.NewFromFloat(0.0001))
	}

	if maxDeviationPct.IsZero() {
		maxDeviationPct = defaultMaxDeviationPct
	}

	if triggerFillPrice.IsPositive() {
		if price, ok := breakEvenPrice(triggerSide, side, triggerFillPrice, bid, ask, tickSize, maxDeviationPct); ok {
			return &HedgePriceResult{
				BestBid:         bid,
				BestAsk:         ask,
				LimitPrice:      venue.RoundToTick(price),
				PricingStrategy: pricingStrategyBreakEven,
			}, nil
		}
	}

	var price decimal.Decimal
	strategy := pricingStrategyTouch
	if retryCount < insideTickRetries {
		strategy = pricingStrategyInsideSpread
		if side == SideBuy {
			price = ask.Sub(tickSize)
		} else {
			price = bid.Add(tickSize)
		}
	} else {
		if side == SideBuy {
			price = ask
		} else {
			price = bid
		}
	}

	return &HedgePriceResult{
		BestBid:         bid,
		BestAsk:         ask,
		LimitPrice:      venue.RoundToTick(price),
		PricingStrategy: strategy,
	}, nil
}

// breakEvenPrice returns a hedge price strictly better than triggerFillPrice
// (adjusted by breakEvenMarginPct) if it is currently fillable and the
// market has not moved past maxDeviationPct away from it.
func breakEvenPrice(triggerSide, hedgeSide Side, triggerFillPrice, bid, ask, tickSize, maxDeviationPct decimal.Decimal) (decimal.Decimal, bool) {
	if triggerSide == SideBuy && hedgeSide == SideSell {
		target := triggerFillPrice.Mul(decimal.NewFromInt(1).Add(breakEvenMarginPct))
		if target.LessThan(bid) {
			return decimal.Zero, false
		}
		return feasibleWithinDeviation(target, bid, ask, maxDeviationPct)
	}

	if triggerSide == SideSell && hedgeSide == SideBuy {
		target := triggerFillPrice.Mul(decimal.NewFromInt(1).Sub(breakEvenMarginPct))
		if target.GreaterThan(ask) {
			return decimal.Zero, false
		}
		return feasibleWithinDeviation(target, bid, ask, maxDeviationPct)
	}

	return decimal.Zero, false
}

func feasibleWithinDeviation(target, bid, ask, maxDeviationPct decimal.Decimal) (decimal.Decimal, bool) {
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return decimal.Zero, false
	}
	deviation := target.Sub(mid).Abs().Div(mid)
	if deviation.GreaterThan(maxDeviationPct) {
		return decimal.Zero, false
	}
	return target, true
}
