package execution

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Hedge budgets. Open and close operations get distinct
// allowances: close (rollback-adjacent) hedges are more time-constrained.
const (
	hedgeMaxRetriesOpen  = 8
	hedgeMaxRetriesClose = 5

	hedgeInsideTickRetriesOpen  = 3
	hedgeInsideTickRetriesClose = 2

	hedgePerAttemptTimeoutOpen  = 1500 * time.Millisecond
	hedgePerAttemptTimeoutClose = 1500 * time.Millisecond

	hedgeTotalBudgetOpen  = 6 * time.Second
	hedgeTotalBudgetClose = 3 * time.Second

	hedgeRetryBackoff = 150 * time.Millisecond
)

// HedgeLeg is one sibling that requires hedging toward its context's hedge
// target.
type HedgeLeg struct {
	Context          *OrderContext
	TriggerSide      Side
	TriggerFillPrice decimal.Decimal
}

// HedgeLegResult is the per-leg outcome of an aggressive-limit hedge,
// combining every attempt's fills into one weighted result.
type HedgeLegResult struct {
	Success        bool
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	MakerQuantity  decimal.Decimal
	TakerQuantity  decimal.Decimal
	UsedMarketFallback bool
	Err            error
}

// HedgeManager drives the aggressive-limit hedge for every sibling of a
// trigger leg, retrying with progressively more aggressive pricing and
// falling back to a market order for any unfilled remainder once its
// budget is exhausted.
type HedgeManager struct {
	pricer      *HedgePricer
	reconciler  *Reconciler
	maxDeviation decimal.Decimal
	logger      *zap.Logger
}

// NewHedgeManager creates a HedgeManager.
func NewHedgeManager(pricer *HedgePricer, reconciler *Reconciler, maxDeviationPct decimal.Decimal, logger *zap.Logger) *HedgeManager {
	return &HedgeManager{pricer: pricer, reconciler: reconciler, maxDeviation: maxDeviationPct, logger: logger}
}

// HedgeAll runs the hedge for every leg concurrently and returns one result
// per leg, indexed identically to legs. closing selects the close-operation
// budget and reduce_only semantics.
func (m *HedgeManager) HedgeAll(ctx context.Context, legs []*HedgeLeg, closing bool) []*HedgeLegResult {
	results := make([]*HedgeLegResult, len(legs))

	var wg sync.WaitGroup
	for i, leg := range legs {
		wg.Add(1)
		go func(i int, leg *HedgeLeg) {
			defer wg.Done()
			results[i] = m.hedgeOne(ctx, leg, closing)
		}(i, leg)
	}
	wg.Wait()

	return results
}

func (m *HedgeManager) hedgeOne(ctx context.Context, leg *HedgeLeg, closing bool) *HedgeLegResult {
	target, hasTarget := leg.Context.HedgeTarget()
	if !hasTarget {
		target = leg.Context.Spec.Quantity
	}

	remaining := target.Sub(leg.Context.FilledQuantity())
	if !remaining.IsPositive() {
		return &HedgeLegResult{Success: true, FilledQuantity: leg.Context.FilledQuantity()}
	}

	maxRetries := hedgeMaxRetriesOpen
	insideTickRetries := hedgeInsideTickRetriesOpen
	perAttemptTimeout := hedgePerAttemptTimeoutOpen
	totalBudget := hedgeTotalBudgetOpen
	strategyResult := "filled"
	if closing {
		maxRetries = hedgeMaxRetriesClose
		insideTickRetries = hedgeInsideTickRetriesClose
		perAttemptTimeout = hedgePerAttemptTimeoutClose
		totalBudget = hedgeTotalBudgetClose
	}

	spec := leg.Context.Spec
	venue := spec.Venue
	deadline := time.Now().Add(totalBudget)

	var accumulated decimal.Decimal
	var notional decimal.Decimal

	for attempt := 0; attempt < maxRetries && time.Now().Before(deadline); attempt++ {
		attemptTimeout := perAttemptTimeout
		if remainingBudget := time.Until(deadline); remainingBudget < attemptTimeout {
			attemptTimeout = remainingBudget
		}
		if attemptTimeout <= 0 {
			break
		}

		priced, err := m.pricer.CalculateAggressiveLimitPrice(ctx, venue, spec.Symbol, spec.Side, leg.TriggerSide, leg.TriggerFillPrice, attempt, insideTickRetries, m.maxDeviation)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("hedge-price-failed", zap.String("venue", venue.Name()), zap.String("symbol", spec.Symbol), zap.Error(err))
			}
			time.Sleep(hedgeRetryBackoff)
			continue
		}

		attemptQty := venue.RoundToStep(remaining.Sub(accumulated))
		if !attemptQty.IsPositive() {
			break
		}

		contractID, err := resolveContract(venue, spec.Symbol)
		if err != nil {
			time.Sleep(hedgeRetryBackoff)
			continue
		}

		placeCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		result, err := venue.PlaceLimit(placeCtx, contractID, attemptQty, priced.LimitPrice, spec.Side, closing)
		if err != nil {
			cancel()
			if isPostOnlyRejection(err.Error()) {
				time.Sleep(hedgeRetryBackoff)
				continue
			}
			HedgeAttemptsTotal.WithLabelValues(priced.PricingStrategy, "failed").Inc()
			return &HedgeLegResult{Err: err, FilledQuantity: accumulated, AvgFillPrice: avgPrice(notional, accumulated)}
		}

		info, err := confirmOrder(ctx, venue, result.OrderID, attemptTimeout, nil)
		cancel()
		if err == nil && info != nil {
			delta := info.FilledSize
			if delta.IsPositive() {
				accumulated = accumulated.Add(delta)
				notional = notional.Add(delta.Mul(info.Price))
			}
			if info.Status != OrderStatusFilled && !info.Status.IsTerminal() {
				_, _ = venue.Cancel(ctx, result.OrderID)
			}
		}

		HedgeAttemptsTotal.WithLabelValues(priced.PricingStrategy, strategyResult).Inc()

		if accumulated.GreaterThanOrEqual(remaining.Mul(fillTargetTolerance)) {
			leg.Context.RecordFill(accumulated, avgPrice(notional, accumulated))
			return &HedgeLegResult{Success: true, FilledQuantity: accumulated, AvgFillPrice: avgPrice(notional, accumulated), MakerQuantity: accumulated}
		}
	}

	if accumulated.IsPositive() {
		leg.Context.RecordFill(accumulated, avgPrice(notional, accumulated))
	}

	return m.marketFallback(ctx, leg, remaining.Sub(accumulated), accumulated, notional, closing)
}

// marketFallback places a market order for whatever quantity the
// aggressive-limit budget could not fill.
func (m *HedgeManager) marketFallback(ctx context.Context, leg *HedgeLeg, remainder, priorAccumulated, priorNotional decimal.Decimal, closing bool) *HedgeLegResult {
	spec := leg.Context.Spec
	venue := spec.Venue

	remainder = venue.RoundToStep(remainder)
	if !remainder.IsPositive() {
		return &HedgeLegResult{
			Success:        priorAccumulated.IsPositive(),
			FilledQuantity: priorAccumulated,
			AvgFillPrice:   avgPrice(priorNotional, priorAccumulated),
			MakerQuantity:  priorAccumulated,
		}
	}

	HedgeMarketFallbackTotal.Inc()

	contractID, err := resolveContract(venue, spec.Symbol)
	if err != nil {
		return &HedgeLegResult{
			Success:            priorAccumulated.IsPositive(),
			FilledQuantity:     priorAccumulated,
			AvgFillPrice:       avgPrice(priorNotional, priorAccumulated),
			MakerQuantity:      priorAccumulated,
			UsedMarketFallback: true,
			Err:                err,
		}
	}

	result, err := venue.PlaceMarket(ctx, contractID, remainder, spec.Side, closing)
	if err != nil {
		HedgeAttemptsTotal.WithLabelValues("market_fallback", "failed").Inc()
		return &HedgeLegResult{
			Success:            priorAccumulated.IsPositive(),
			FilledQuantity:     priorAccumulated,
			AvgFillPrice:       avgPrice(priorNotional, priorAccumulated),
			MakerQuantity:      priorAccumulated,
			UsedMarketFallback: true,
			Err:                err,
		}
	}

	info, err := confirmOrder(ctx, venue, result.OrderID, 5*time.Second, nil)
	takerQty := decimal.Zero
	takerPrice := decimal.Zero
	totalAccumulated := priorAccumulated
	totalNotional := priorNotional
	if err == nil && info != nil && info.FilledSize.IsPositive() {
		takerQty = info.FilledSize
		takerPrice = info.Price
		totalAccumulated = totalAccumulated.Add(takerQty)
		totalNotional = totalNotional.Add(takerQty.Mul(info.Price))
	}

	leg.Context.RecordFill(takerQty, takerPrice)

	outcome := "filled"
	if totalAccumulated.LessThan(remainder.Add(priorAccumulated).Mul(fillTargetTolerance)) {
		outcome = "partial"
	}
	HedgeAttemptsTotal.WithLabelValues("market_fallback", outcome).Inc()

	return &HedgeLegResult{
		Success:            totalAccumulated.IsPositive(),
		FilledQuantity:     totalAccumulated,
		AvgFillPrice:       avgPrice(totalNotional, totalAccumulated),
		MakerQuantity:      priorAccumulated,
		TakerQuantity:      takerQty,
		UsedMarketFallback: true,
	}
}

func avgPrice(notional, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

func isPostOnlyRejection(reason string) bool {
	return ClassifyCancelReason(strings.ToLower(reason)) == ReasonRetryablePostOnly
}
