package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fillPollInterval is how often a limit-order wait loop re-checks context
// fill progress and venue order state while waiting for a terminal event.
var fillPollInterval = 100 * time.Millisecond

// OrderPlacer runs the single-order placement task, dispatching to the
// per-mode algorithm named by the order's ExecutionMode.
type OrderPlacer struct {
	prices      *PriceProvider
	router      *WebsocketRouter
	reconciler  *Reconciler
	logger      *zap.Logger
}

// NewOrderPlacer creates an OrderPlacer.
func NewOrderPlacer(prices *PriceProvider, router *WebsocketRouter, reconciler *Reconciler, logger *zap.Logger) *OrderPlacer {
	return &OrderPlacer{prices: prices, router: router, reconciler: reconciler, logger: logger}
}

// Place runs octx.Spec's placement task to completion, always returning a
// classifiable outcome rather than an error.
func (p *OrderPlacer) Place(ctx context.Context, octx *OrderContext) *PlacementOutcome {
	var outcome *PlacementOutcome

	switch octx.Spec.ExecutionMode {
	case ModeLimitOnly:
		outcome = p.limitOnly(ctx, octx)
	case ModeMarketOnly:
		outcome = p.marketOnly(ctx, octx)
	case ModeLimitWithFallback, ModeAdaptive:
		outcome = p.limitWithFallback(ctx, octx)
	default:
		outcome = p.limitWithFallback(ctx, octx)
	}

	outcome.ExecutionModeUsed = octx.Spec.ExecutionMode
	outcome.FilledQuantity = octx.FilledQuantity()
	octx.SetResult(outcome)
	return outcome
}

// resolveContract maps spec's symbol to the venue's contract identifier,
// used by every placement call.
func resolveContract(venue VenueClient, symbol string) (string, error) {
	return venue.ResolveContractID(symbol)
}

// limitPrice computes BBO ± offset rounded to tick for spec's side.
func (p *OrderPlacer) limitPrice(ctx context.Context, spec *OrderSpec) (decimal.Decimal, error) {
	bid, ask, err := p.prices.GetBBO(ctx, spec.Venue, spec.Symbol)
	if err != nil {
		return decimal.Zero, err
	}

	offset := decimal.Zero
	if spec.HasLimitPriceOffset {
		offset = spec.LimitPriceOffsetPct
	}

	var price decimal.Decimal
	if spec.Side == SideBuy {
		price = bid.Mul(decimal.NewFromInt(1).Add(offset))
	} else {
		price = ask.Mul(decimal.NewFromInt(1).Sub(offset))
	}

	return spec.Venue.RoundToTick(price), nil
}

// limitOnly places a single post-only-eligible limit order and waits for
// it to fill or time out; no repricing or market fallback.
func (p *OrderPlacer) limitOnly(ctx context.Context, octx *OrderContext) *PlacementOutcome {
	spec := octx.Spec

	price, err := p.limitPrice(ctx, spec)
	if err != nil {
		return &PlacementOutcome{Err: err, Retryable: true}
	}

	qty := spec.Venue.RoundToStep(octx.RemainingQuantity())
	if !qty.IsPositive() {
		qty = spec.Venue.RoundToStep(spec.EffectiveQuantity(price))
	}

	contractID, err := resolveContract(spec.Venue, spec.Symbol)
	if err != nil {
		return &PlacementOutcome{Err: err, Retryable: false}
	}

	result, err := spec.Venue.PlaceLimit(ctx, contractID, qty, price, spec.Side, spec.ReduceOnly)
	if err != nil {
		reason := ClassifyCancelReason(err.Error())
		return &PlacementOutcome{Err: err, Retryable: reason == ReasonRetryablePostOnly || reason == ReasonRetryableExpired}
	}

	p.router.Register(result.OrderID, octx)
	defer p.router.Unregister(result.OrderID)

	timeout := time.Duration(spec.TimeoutSeconds * float64(time.Second))
	info, timedOut := p.awaitFillOrTimeout(ctx, octx, spec.Venue, result.OrderID, timeout)

	if !timedOut && info != nil && info.Status.IsTerminal() && info.Status != OrderStatusFilled {
		reason := ClassifyCancelReason(info.CancelReason)
		return p.reconcileAndReturn(ctx, octx, spec.Venue, result.OrderID, result.OrderID, reason == ReasonRetryablePostOnly || reason == ReasonRetryableExpired)
	}

	if timedOut {
		_, _ = spec.Venue.Cancel(ctx, result.OrderID)
		return p.reconcileAndReturn(ctx, octx, spec.Venue, result.OrderID, result.OrderID, false)
	}

	return p.reconcileAndReturn(ctx, octx, spec.Venue, result.OrderID, result.OrderID, false)
}

// marketOnly places a market order and confirms its fill, with no
// repricing. If the venue cancels it after a partial fill for a slippage
// reason, the remainder goes to fallbackMarketForRemainder as a further
// market order.
func (p *OrderPlacer) marketOnly(ctx context.Context, octx *OrderContext) *PlacementOutcome {
	spec := octx.Spec

	qty := spec.Venue.RoundToStep(octx.RemainingQuantity())
	if !qty.IsPositive() {
		bid, ask, err := p.prices.GetBBO(ctx, spec.Venue, spec.Symbol)
		if err == nil {
			ref := ask
			if spec.Side == SideSell {
				ref = bid
			}
			qty = spec.Venue.RoundToStep(spec.EffectiveQuantity(ref))
		}
	}

	contractID, err := resolveContract(spec.Venue, spec.Symbol)
	if err != nil {
		return &PlacementOutcome{Err: err, Retryable: false}
	}

	result, err := spec.Venue.PlaceMarket(ctx, contractID, qty, spec.Side, spec.ReduceOnly)
	if err != nil {
		return &PlacementOutcome{Err: err, Retryable: false}
	}

	p.router.Register(result.OrderID, octx)
	defer p.router.Unregister(result.OrderID)

	timeout := time.Duration(spec.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	info, err := confirmOrder(confirmCtx, spec.Venue, result.OrderID, timeout, octx.Done)
	cancel()
	if err != nil {
		return &PlacementOutcome{Err: err, Retryable: false, OrderID: result.OrderID}
	}

	p.reconciler.Reconcile(ctx, spec.Venue, result.OrderID, octx)

	if info.Status == OrderStatusCanceled && info.FilledSize.IsPositive() {
		reason := ClassifyCancelReason(info.CancelReason)
		if reason == ReasonMarketFallback {
			return p.fallbackMarketForRemainder(ctx, octx)
		}
	}

	return p.outcomeFromContext(octx, result.OrderID, false)
}

// limitWithFallback places a single limit order and, if it times out still
// partially or fully unfilled, falls back to a market order for whatever
// quantity remains rather than repricing the limit.
func (p *OrderPlacer) limitWithFallback(ctx context.Context, octx *OrderContext) *PlacementOutcome {
	outcome := p.limitOnly(ctx, octx)
	if octx.RemainingQuantity().IsZero() {
		return outcome
	}
	if outcome.Err != nil && !outcome.Retryable {
		return outcome
	}
	return p.fallbackMarketForRemainder(ctx, octx)
}

// fallbackMarketForRemainder places a market order for whatever quantity
// remains unfilled after a limit attempt timed out or was cancelled.
func (p *OrderPlacer) fallbackMarketForRemainder(ctx context.Context, octx *OrderContext) *PlacementOutcome {
	spec := octx.Spec

	remaining := spec.Venue.RoundToStep(octx.RemainingQuantity())
	if !remaining.IsPositive() {
		return p.outcomeFromContext(octx, "", false)
	}

	contractID, err := resolveContract(spec.Venue, spec.Symbol)
	if err != nil {
		return &PlacementOutcome{Err: err, FilledQuantity: octx.FilledQuantity()}
	}

	result, err := spec.Venue.PlaceMarket(ctx, contractID, remaining, spec.Side, spec.ReduceOnly)
	if err != nil {
		return &PlacementOutcome{Err: err, FilledQuantity: octx.FilledQuantity()}
	}

	p.router.Register(result.OrderID, octx)
	defer p.router.Unregister(result.OrderID)

	timeout := time.Duration(spec.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	_, err = confirmOrder(confirmCtx, spec.Venue, result.OrderID, timeout, octx.Done)
	cancel()
	if err != nil {
		return &PlacementOutcome{Err: err, Retryable: false, OrderID: result.OrderID}
	}

	return p.reconcileAndReturn(ctx, octx, spec.Venue, result.OrderID, result.OrderID, false)
}

// awaitFillOrTimeout polls until octx reaches its full target, the venue
// reports a terminal order state, the context's cancel signal fires, or
// timeout elapses.
func (p *OrderPlacer) awaitFillOrTimeout(ctx context.Context, octx *OrderContext, venue VenueClient, orderID string, timeout time.Duration) (*OrderInfo, bool) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		if octx.RemainingQuantity().IsZero() {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-octx.CancelSignal.Done():
			_, _ = venue.Cancel(ctx, orderID)
			return nil, false
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, true
			}
			info, err := venue.GetOrderInfo(ctx, orderID, false)
			if err == nil && info != nil && info.Status.IsTerminal() {
				return info, false
			}
		}
	}
}

func (p *OrderPlacer) reconcileAndReturn(ctx context.Context, octx *OrderContext, venue VenueClient, orderID, resultOrderID string, retryable bool) *PlacementOutcome {
	p.reconciler.Reconcile(ctx, venue, orderID, octx)
	outcome := p.outcomeFromContext(octx, resultOrderID, retryable)
	return outcome
}

func (p *OrderPlacer) outcomeFromContext(octx *OrderContext, orderID string, retryable bool) *PlacementOutcome {
	filled := octx.FilledQuantity()
	remaining := octx.RemainingQuantity()

	return &PlacementOutcome{
		Success:        remaining.IsZero() && filled.IsPositive(),
		Filled:         remaining.IsZero() && filled.IsPositive(),
		FilledQuantity: filled,
		OrderID:        orderID,
		Retryable:      retryable,
	}
}
