package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// exposureDiscrepancyTolerance is the per-token disagreement between
// context-tracked fills and a venue's reported position snapshot that is
// merely logged rather than acted upon.
var exposureDiscrepancyTolerance = decimal.NewFromFloat(0.01)

// postTradeMaxImbalancePct and postTradeBaseTolerance are the
// PostExecutionValidator's secondary-check thresholds.
var (
	postTradeMaxImbalancePct = decimal.NewFromFloat(0.02)
	postTradeBaseTolerance   = decimal.NewFromFloat(0.0001)
)

// ExposureVerifier cross-checks OrderContext state (the primary,
// websocket-updated source of truth) against each venue's reported
// position snapshot (a secondary, async confirmation).
type ExposureVerifier struct {
	logger *zap.Logger
}

// NewExposureVerifier creates an ExposureVerifier.
func NewExposureVerifier(logger *zap.Logger) *ExposureVerifier {
	return &ExposureVerifier{logger: logger}
}

// Verify compares each context's filled_quantity against its venue's
// current position snapshot. Context state remains authoritative:
// discrepancies beyond tolerance are logged at debug and never alter the
// batch outcome directly (the caller applies the post-trade imbalance
// gating separately).
func (v *ExposureVerifier) Verify(ctx context.Context, contexts []*OrderContext) {
	for _, octx := range contexts {
		snap, err := octx.Spec.Venue.GetPositionSnapshot(ctx, octx.Spec.Symbol)
		if err != nil {
			if v.logger != nil {
				v.logger.Debug("exposure-snapshot-failed",
					zap.String("venue", octx.Spec.Venue.Name()),
					zap.String("symbol", octx.Spec.Symbol),
					zap.Error(err))
			}
			continue
		}
		if snap == nil || !snap.HasPosition {
			continue
		}

		diff := snap.Quantity.Abs().Sub(octx.FilledQuantity()).Abs()
		if diff.GreaterThan(exposureDiscrepancyTolerance) && v.logger != nil {
			v.logger.Debug("exposure-discrepancy",
				zap.String("venue", octx.Spec.Venue.Name()),
				zap.String("symbol", octx.Spec.Symbol),
				zap.String("context_filled", octx.FilledQuantity().String()),
				zap.String("snapshot_quantity", snap.Quantity.String()))
		}
	}
}

// PostTradeCritical reports whether the net-exposure or residual-quantity
// thresholds are exceeded by report, which is built from context fills;
// venue position snapshots are not consulted.
func PostTradeCritical(report *ImbalanceReport) bool {
	if report.ImbalancePct.GreaterThan(postTradeMaxImbalancePct) {
		return true
	}
	return report.ImbalanceTokens.GreaterThan(postTradeBaseTolerance)
}
