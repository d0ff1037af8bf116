package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// cycleOutcome classifies what a just-completed OrderContext means for
// event-loop priority dispatch.
type cycleOutcome int

const (
	cycleNone cycleOutcome = iota
	cycleFullyFilled
	cyclePartiallyFilled
	cycleRetryable
)

// classifyContext inspects a completed context's placement result and
// current fill state, returning a disjoint classification for the
// event-loop's priority dispatch.
func classifyContext(octx *OrderContext) cycleOutcome {
	result := octx.Result()
	if result == nil {
		return cycleNone
	}

	if result.Retryable {
		return cycleRetryable
	}

	if octx.RemainingQuantity().IsZero() && octx.FilledQuantity().IsPositive() {
		return cycleFullyFilled
	}

	if octx.FilledQuantity().IsPositive() {
		return cyclePartiallyFilled
	}

	return cycleNone
}

// runFullFillHandler handles a trigger context that is fully filled: every
// sibling is cancelled, reconciled, and hedged toward the trigger's
// actual-token exposure.
func runFullFillHandler(
	ctx context.Context,
	trigger *OrderContext,
	siblings []*OrderContext,
	placer *OrderPlacer,
	reconciler *Reconciler,
	hedges *HedgeManager,
	imbalance *ImbalanceAnalyzer,
	rollbackOnPartial bool,
	logger *zap.Logger,
) (hedgeErr error, needsRollback bool) {
	cancelAndReconcileSiblings(ctx, siblings, reconciler)

	triggerMult := decimal.NewFromInt(trigger.Spec.Venue.QuantityMultiplier(trigger.Spec.Symbol))
	if triggerMult.IsZero() {
		triggerMult = decimal.NewFromInt(1)
	}
	actualTokens := trigger.FilledQuantity().Mul(triggerMult)

	allReduceOnly := trigger.Spec.ReduceOnly
	allSiblingsFilled := true
	var legs []*HedgeLeg

	for _, sib := range siblings {
		if !sib.Spec.ReduceOnly {
			allReduceOnly = false
		}
		if sib.RemainingQuantity().IsPositive() {
			allSiblingsFilled = false
		}

		sibMult := decimal.NewFromInt(sib.Spec.Venue.QuantityMultiplier(sib.Spec.Symbol))
		if sibMult.IsZero() {
			sibMult = decimal.NewFromInt(1)
		}
		target := actualTokens.Div(sibMult)

		hedgeCap := sib.Spec.Quantity.Mul(sanityCapMultiplier)
		if hedgeCap.IsPositive() && target.GreaterThan(hedgeCap) {
			if logger != nil {
				logger.Warn("hedge-target-capped", zap.String("venue", sib.Spec.Venue.Name()), zap.String("symbol", sib.Spec.Symbol), zap.String("target", target.String()), zap.String("cap", hedgeCap.String()))
			}
			target = hedgeCap
		}
		sib.SetHedgeTarget(target)

		legs = append(legs, &HedgeLeg{Context: sib, TriggerSide: trigger.Spec.Side, TriggerFillPrice: triggerFillPrice(trigger)})
	}

	if allReduceOnly && allSiblingsFilled {
		return nil, false
	}

	results := hedges.HedgeAll(ctx, legs, trigger.Spec.ReduceOnly)

	allContexts := append([]*OrderContext{trigger}, siblings...)
	report := imbalance.Compute(allContexts)
	ImbalanceTokens.Observe(imbalanceFloat(report.ImbalanceTokens))

	if allFullyFilled(allContexts) && !report.Critical {
		return nil, false
	}

	for _, r := range results {
		if r.Err != nil {
			hedgeErr = r.Err
		}
	}
	if hedgeErr == nil && !allSuccessful(results) {
		hedgeErr = &HedgeFailure{Message: "one or more hedge legs did not reach target"}
	}

	if hedgeErr != nil {
		if rollbackOnPartial {
			return hedgeErr, true
		}
		return hedgeErr, false
	}

	return nil, false
}

// runPartialFillHandler handles a trigger context that timed out with a
// partial fill: the timeout is fatal for this leg, but its partial fill
// still needs a matching hedge on the other side.
func runPartialFillHandler(
	ctx context.Context,
	completed *OrderContext,
	siblings []*OrderContext,
	reconciler *Reconciler,
	hedges *HedgeManager,
	rollbackOnPartial bool,
) (hedgeErr error, needsRollback bool) {
	cancelAndReconcileSiblings(ctx, siblings, reconciler)

	mult := decimal.NewFromInt(completed.Spec.Venue.QuantityMultiplier(completed.Spec.Symbol))
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	actualTokens := completed.FilledQuantity().Mul(mult)

	var legs []*HedgeLeg
	for _, sib := range siblings {
		sibMult := decimal.NewFromInt(sib.Spec.Venue.QuantityMultiplier(sib.Spec.Symbol))
		if sibMult.IsZero() {
			sibMult = decimal.NewFromInt(1)
		}
		target := actualTokens.Div(sibMult)
		hedgeCap := sib.Spec.Quantity.Mul(sanityCapMultiplier)
		if hedgeCap.IsPositive() && target.GreaterThan(hedgeCap) {
			target = hedgeCap
		}
		sib.SetHedgeTarget(target)
		legs = append(legs, &HedgeLeg{Context: sib, TriggerSide: completed.Spec.Side, TriggerFillPrice: triggerFillPrice(completed)})
	}

	results := hedges.HedgeAll(ctx, legs, completed.Spec.ReduceOnly)

	for _, r := range results {
		if r.Err != nil {
			hedgeErr = r.Err
		}
	}
	if hedgeErr == nil && !allSuccessful(results) {
		hedgeErr = &HedgeFailure{Message: "hedge after partial fill did not reach target"}
	}

	if hedgeErr != nil && rollbackOnPartial {
		return hedgeErr, true
	}
	return hedgeErr, false
}

func cancelAndReconcileSiblings(ctx context.Context, siblings []*OrderContext, reconciler *Reconciler) {
	for _, sib := range siblings {
		sib.CancelSignal.Set()
	}
	for _, sib := range siblings {
		<-sib.Done
		result := sib.Result()
		orderID := ""
		if result != nil {
			orderID = result.OrderID
		}
		reconciler.Reconcile(ctx, sib.Spec.Venue, orderID, sib)
	}
}

func triggerFillPrice(octx *OrderContext) decimal.Decimal {
	result := octx.Result()
	if result == nil {
		return decimal.Zero
	}
	return result.FillPrice
}

func allFullyFilled(contexts []*OrderContext) bool {
	for _, c := range contexts {
		if c.RemainingQuantity().IsPositive() {
			return false
		}
	}
	return true
}

func allSuccessful(results []*HedgeLegResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

func imbalanceFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// PostExecutionValidator runs final imbalance and exposure checks after a
// batch reaches a terminal state.
type PostExecutionValidator struct {
	imbalance *ImbalanceAnalyzer
	exposure  *ExposureVerifier
	logger    *zap.Logger
}

// NewPostExecutionValidator creates a PostExecutionValidator.
func NewPostExecutionValidator(imbalance *ImbalanceAnalyzer, exposure *ExposureVerifier, logger *zap.Logger) *PostExecutionValidator {
	return &PostExecutionValidator{imbalance: imbalance, exposure: exposure, logger: logger}
}

// ValidationOutcome is the result of post-execution validation.
type ValidationOutcome struct {
	Success        bool
	RequiresRollback bool
	ErrorMessage   string
	Report         *ImbalanceReport
}

// Validate runs the final imbalance and exposure checks.
func (v *PostExecutionValidator) Validate(ctx context.Context, contexts []*OrderContext, rollbackPerformed bool, capturedErr error) *ValidationOutcome {
	if rollbackPerformed {
		msg := "rollback performed"
		if capturedErr != nil {
			msg = capturedErr.Error()
		}
		return &ValidationOutcome{Success: false, ErrorMessage: msg}
	}

	isCloseOperation := true
	for _, c := range contexts {
		if !c.Spec.ReduceOnly {
			isCloseOperation = false
			break
		}
	}

	report := v.imbalance.Compute(contexts)

	if !isCloseOperation && report.Critical {
		return &ValidationOutcome{
			Success:          false,
			RequiresRollback: true,
			ErrorMessage:     "critical imbalance detected after execution",
			Report:           report,
		}
	}

	allHaveFills := true
	for _, c := range contexts {
		if !c.FilledQuantity().IsPositive() {
			allHaveFills = false
			break
		}
	}

	if allHaveFills {
		if !isCloseOperation {
			v.exposure.Verify(ctx, contexts)
			if PostTradeCritical(report) && v.logger != nil {
				v.logger.Warn("post-trade-imbalance-warning",
					zap.String("imbalance_tokens", report.ImbalanceTokens.String()),
					zap.String("imbalance_pct", report.ImbalancePct.String()))
			}
		}
		return &ValidationOutcome{Success: true, Report: report}
	}

	errMsg := "execution completed with partial fills"
	if report.Critical {
		errMsg = "execution completed with partial fills and critical imbalance"
		if capturedErr != nil {
			return &ValidationOutcome{Success: false, RequiresRollback: true, ErrorMessage: errMsg, Report: report}
		}
	}

	return &ValidationOutcome{Success: false, ErrorMessage: errMsg, Report: report}
}
