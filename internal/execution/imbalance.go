package execution

import "github.com/shopspring/decimal"

// criticalImbalancePct is the threshold past which residual delta-neutral
// exposure is declared critical.
var criticalImbalancePct = decimal.NewFromFloat(0.01)

// ImbalanceReport is the outcome of comparing long vs short exposure across
// a batch's contexts, in actual (multiplier-normalized) tokens.
type ImbalanceReport struct {
	LongTokens     decimal.Decimal
	ShortTokens    decimal.Decimal
	ImbalanceTokens decimal.Decimal
	ImbalancePct    decimal.Decimal
	Critical        bool
}

// ImbalanceAnalyzer computes the delta-neutral residual imbalance for a
// batch. USD is never used for this check: multipliers and prices differ
// across venues, so only actual-token quantities are comparable.
type ImbalanceAnalyzer struct{}

// NewImbalanceAnalyzer creates an ImbalanceAnalyzer.
func NewImbalanceAnalyzer() *ImbalanceAnalyzer {
	return &ImbalanceAnalyzer{}
}

// Compute sums each context's filled_quantity, normalized by its venue's
// quantity multiplier for the leg's symbol, split by side.
func (a *ImbalanceAnalyzer) Compute(contexts []*OrderContext) *ImbalanceReport {
	var long, short decimal.Decimal

	for _, ctx := range contexts {
		mult := decimal.NewFromInt(ctx.Spec.Venue.QuantityMultiplier(ctx.Spec.Symbol))
		if mult.IsZero() {
			mult = decimal.NewFromInt(1)
		}
		actual := ctx.FilledQuantity().Mul(mult)

		switch ctx.Spec.Side {
		case SideBuy:
			long = long.Add(actual)
		case SideSell:
			short = short.Add(actual)
		}
	}

	imbalanceTokens := long.Sub(short).Abs()

	var pct decimal.Decimal
	maxSide := long
	if short.GreaterThan(maxSide) {
		maxSide = short
	}
	if maxSide.IsPositive() {
		minSide := long
		if short.LessThan(minSide) {
			minSide = short
		}
		pct = maxSide.Sub(minSide).Div(maxSide)
	}

	return &ImbalanceReport{
		LongTokens:      long,
		ShortTokens:      short,
		ImbalanceTokens: imbalanceTokens,
		ImbalancePct:    pct,
		Critical:        pct.GreaterThan(criticalImbalancePct),
	}
}
