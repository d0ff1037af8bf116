package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// antiSpoofFilledTolerancePct is how close a REST-reported fill must be to
// spec.quantity to be treated as suspiciously-exact.
var antiSpoofFilledTolerancePct = decimal.NewFromFloat(0.10)

// antiSpoofRemainingTolerancePct is how close remaining_size must be to
// zero, expressed as a fraction of spec.quantity, to count as "effectively
// none remaining".
var antiSpoofRemainingTolerancePct = decimal.NewFromFloat(0.01)

// Reconciler performs authoritative post-cancel fill resolution: REST
// reports for cancelled orders are not trusted at face value, because
// some venues report filled = size - remaining regardless of actual
// fills.
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile applies the authoritative fill resolution algorithm to ctx
// for orderID, placed on venue. orderID may be empty if placement never
// produced an id, in which case this is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, venue VenueClient, orderID string, octx *OrderContext) {
	if orderID == "" {
		return
	}

	if octx.WebsocketCancelled() {
		return
	}

	if octx.RemainingQuantity().IsZero() {
		return
	}

	info, err := venue.GetOrderInfo(ctx, orderID, false)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("reconcile-cached-lookup-failed", zap.String("order_id", orderID), zap.Error(err))
		}
		info = nil
	}

	if info != nil && info.Status == OrderStatusCanceled {
		if info.FilledSize.IsZero() && octx.FilledQuantity().IsZero() {
			return
		}
		if info.FilledSize.LessThanOrEqual(octx.FilledQuantity()) {
			return
		}
		r.applyWithGuards(octx, info)
		return
	}

	if info == nil || !info.Status.IsTerminal() {
		info, err = venue.GetOrderInfo(ctx, orderID, true)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("reconcile-forced-refresh-failed", zap.String("order_id", orderID), zap.Error(err))
			}
			return
		}
	}

	r.applyWithGuards(octx, info)
}

// applyWithGuards applies the anti-spoof heuristic and the 1.10x sanity
// cap before accepting any additional fill from info.
func (r *Reconciler) applyWithGuards(octx *OrderContext, info *OrderInfo) {
	specQty := octx.Spec.Quantity
	if !octx.Spec.HasQuantity || specQty.IsZero() {
		specQty = octx.RemainingQuantity().Add(octx.FilledQuantity())
	}

	if info.Status == OrderStatusCanceled && specQty.IsPositive() && octx.FilledQuantity().IsZero() {
		withinFilledTolerance := info.FilledSize.Sub(specQty).Abs().LessThanOrEqual(specQty.Mul(antiSpoofFilledTolerancePct))
		withinRemainingTolerance := info.RemainingSize.LessThanOrEqual(specQty.Mul(antiSpoofRemainingTolerancePct))
		if withinFilledTolerance && withinRemainingTolerance {
			AntiSpoofRejectionsTotal.Inc()
			if r.logger != nil {
				r.logger.Warn("anti-spoof-rejected",
					zap.String("order_id", info.OrderID),
					zap.String("reported_filled", info.FilledSize.String()),
					zap.String("spec_quantity", specQty.String()))
			}
			return
		}
	}

	delta := info.FilledSize.Sub(octx.FilledQuantity())
	if !delta.IsPositive() {
		return
	}

	sanityCap := octx.SanityCap()
	if sanityCap.IsPositive() && octx.FilledQuantity().Add(delta).GreaterThan(sanityCap) {
		SanityCapRejectionsTotal.Inc()
		if r.logger != nil {
			r.logger.Warn("sanity-cap-rejected",
				zap.String("order_id", info.OrderID),
				zap.String("attempted_total", info.FilledSize.String()),
				zap.String("cap", sanityCap.String()))
		}
		return
	}

	octx.RecordFill(delta, info.Price)
}
