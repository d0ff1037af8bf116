package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// LiquidityReport is the outcome of a depth/slippage/spread assessment for
// one leg.
type LiquidityReport struct {
	Sufficient      bool
	Reason          string
	SpreadPct       decimal.Decimal
	EstimatedSlipPct decimal.Decimal
	AvailableDepth  decimal.Decimal
}

// LiquidityAnalyzer scores a leg's order book against its intended size
// before any order is placed.
type LiquidityAnalyzer struct {
	prices *PriceProvider

	maxSpreadPct     decimal.Decimal
	maxSlippagePct   decimal.Decimal
	depthLevels      int
}

// LiquidityAnalyzerConfig configures a LiquidityAnalyzer.
type LiquidityAnalyzerConfig struct {
	Prices         *PriceProvider
	MaxSpreadPct   decimal.Decimal // e.g. 0.02 for 2%
	MaxSlippagePct decimal.Decimal
	DepthLevels    int
}

// NewLiquidityAnalyzer creates a LiquidityAnalyzer with sane defaults.
func NewLiquidityAnalyzer(cfg *LiquidityAnalyzerConfig) *LiquidityAnalyzer {
	maxSpread := cfg.MaxSpreadPct
	if maxSpread.IsZero() {
		maxSpread = decimal.NewFromFloat(0.02)
	}
	maxSlip := cfg.MaxSlippagePct
	if maxSlip.IsZero() {
		maxSlip = decimal.NewFromFloat(0.03)
	}
	levels := cfg.DepthLevels
	if levels <= 0 {
		levels = 10
	}

	return &LiquidityAnalyzer{
		prices:         cfg.Prices,
		maxSpreadPct:   maxSpread,
		maxSlippagePct: maxSlip,
		depthLevels:    levels,
	}
}

// Assess reports whether venue's book for symbol can plausibly absorb qty on
// side without breaching the configured spread/slippage ceilings.
func (a *LiquidityAnalyzer) Assess(ctx context.Context, venue VenueClient, symbol string, side Side, qty decimal.Decimal) (*LiquidityReport, error) {
	bid, ask, err := a.prices.GetBBO(ctx, venue, symbol)
	if err != nil {
		return nil, fmt.Errorf("liquidity assess bbo: %w", err)
	}
	if bid.IsZero() || ask.IsZero() {
		return &LiquidityReport{Sufficient: false, Reason: "empty book"}, nil
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	spreadPct := ask.Sub(bid).Div(mid)
	if spreadPct.GreaterThan(a.maxSpreadPct) {
		return &LiquidityReport{
			Sufficient: false,
			Reason:     fmt.Sprintf("spread %s exceeds max %s", spreadPct, a.maxSpreadPct),
			SpreadPct:  spreadPct,
		}, nil
	}

	book, err := a.prices.GetOrderBook(ctx, venue, symbol, a.depthLevels)
	if err != nil {
		return nil, fmt.Errorf("liquidity assess book: %w", err)
	}

	levels := book.Asks
	if side == SideSell {
		levels = book.Bids
	}

	depth, avgPrice := walkBook(levels, qty)
	if depth.LessThan(qty) {
		return &LiquidityReport{
			Sufficient:     false,
			Reason:         fmt.Sprintf("available depth %s below requested %s", depth, qty),
			SpreadPct:      spreadPct,
			AvailableDepth: depth,
		}, nil
	}

	ref := ask
	if side == SideSell {
		ref = bid
	}
	var slipPct decimal.Decimal
	if ref.IsPositive() {
		diff := avgPrice.Sub(ref)
		if side == SideSell {
			diff = ref.Sub(avgPrice)
		}
		slipPct = diff.Div(ref).Abs()
	}

	if slipPct.GreaterThan(a.maxSlippagePct) {
		return &LiquidityReport{
			Sufficient:       false,
			Reason:           fmt.Sprintf("estimated slippage %s exceeds max %s", slipPct, a.maxSlippagePct),
			SpreadPct:        spreadPct,
			EstimatedSlipPct: slipPct,
			AvailableDepth:   depth,
		}, nil
	}

	return &LiquidityReport{
		Sufficient:       true,
		SpreadPct:        spreadPct,
		EstimatedSlipPct: slipPct,
		AvailableDepth:   depth,
	}, nil
}

// walkBook sums depth across levels until qty is reached (or the book is
// exhausted), returning the cumulative depth walked and its size-weighted
// average price.
func walkBook(levels []PriceLevel, qty decimal.Decimal) (depth, avgPrice decimal.Decimal) {
	var notional decimal.Decimal
	remaining := qty

	for _, lvl := range levels {
		if remaining.IsZero() || remaining.IsNegative() {
			break
		}
		take := lvl.Size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(lvl.Price))
		depth = depth.Add(take)
		remaining = remaining.Sub(take)
	}

	if depth.IsPositive() {
		avgPrice = notional.Div(depth)
	}
	return depth, avgPrice
}
