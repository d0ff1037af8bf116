package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AtomicMultiOrderExecutor drives a batch of correlated OrderSpecs to one
// of two terminal outcomes: fully balanced fills within tolerance, or no
// net exposure, with any residual position forcibly closed.
//
// Scheduling model: Python's original is single-threaded cooperative
// concurrency; this port gives each order task its own goroutine and
// funnels completions through one channel, which the event loop drains in
// batches so the full-fill > partial-fill > retryable priority order
// still applies across whatever completed since the
// loop last looked.
type AtomicMultiOrderExecutor struct {
	preflight  *PreFlightChecker
	placer     *OrderPlacer
	reconciler *Reconciler
	hedges     *HedgeManager
	imbalance  *ImbalanceAnalyzer
	validator  *PostExecutionValidator
	rollback   *RollbackManager
	logger     *zap.Logger
}

// ExecutorConfig configures an AtomicMultiOrderExecutor.
type ExecutorConfig struct {
	PreFlight  *PreFlightChecker
	Placer     *OrderPlacer
	Reconciler *Reconciler
	Hedges     *HedgeManager
	Imbalance  *ImbalanceAnalyzer
	Validator  *PostExecutionValidator
	Rollback   *RollbackManager
	Logger     *zap.Logger
}

// NewAtomicMultiOrderExecutor creates an AtomicMultiOrderExecutor.
func NewAtomicMultiOrderExecutor(cfg *ExecutorConfig) *AtomicMultiOrderExecutor {
	return &AtomicMultiOrderExecutor{
		preflight:  cfg.PreFlight,
		placer:     cfg.Placer,
		reconciler: cfg.Reconciler,
		hedges:     cfg.Hedges,
		imbalance:  cfg.Imbalance,
		validator:  cfg.Validator,
		rollback:   cfg.Rollback,
		logger:     cfg.Logger,
	}
}

// ExecuteAtomically is the engine's single public entry point: drive a
// batch of correlated orders to a terminal outcome, either fully balanced
// fills within tolerance or no net exposure.
func (e *AtomicMultiOrderExecutor) ExecuteAtomically(
	ctx context.Context,
	orders []*OrderSpec,
	rollbackOnPartial bool,
	preFlight bool,
	skipLeverageCheck bool,
) *BatchResult {
	start := time.Now()
	batchID := uuid.NewString()
	defer func() {
		BatchDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if len(orders) == 0 {
		BatchesTotal.WithLabelValues("success").Inc()
		return trivialSuccess()
	}

	if preFlight {
		if err := e.preflight.Check(ctx, orders, skipLeverageCheck); err != nil {
			BatchesTotal.WithLabelValues("preflight_rejected").Inc()
			return failureResult(err.Error())
		}
	}

	router := NewWebsocketRouter(e.logger)
	venues := map[string]VenueClient{}
	for _, spec := range orders {
		venues[spec.Venue.Name()] = spec.Venue
	}
	for _, venue := range venues {
		router.Install(venue)
	}
	defer router.Restore()

	placer := e.placer
	if placer.router != router {
		placer = NewOrderPlacer(placer.prices, router, placer.reconciler, placer.logger)
	}

	contexts := make([]*OrderContext, len(orders))
	for i, spec := range orders {
		contexts[i] = NewOrderContext(spec)
	}

	onComplete := make(chan *OrderContext, len(contexts)*4+16)

	runTask := func(octx *OrderContext) {
		go func() {
			placer.Place(ctx, octx)
			octx.MarkCompleted()
			close(octx.Done)
			onComplete <- octx
		}()
	}

	for _, octx := range contexts {
		runTask(octx)
	}

	pending := len(contexts)
	var triggerCtx *OrderContext
	handledByTrigger := make(map[*OrderContext]bool)
	var hedgeErr error
	needsRollback := false

	for pending > 0 {
		batch := []*OrderContext{<-onComplete}
		pending--

	drain:
		for {
			select {
			case octx := <-onComplete:
				batch = append(batch, octx)
				pending--
			default:
				break drain
			}
		}

		var fulls, partials, retries []*OrderContext
		for _, octx := range batch {
			if handledByTrigger[octx] {
				continue
			}
			switch classifyContext(octx) {
			case cycleFullyFilled:
				fulls = append(fulls, octx)
			case cyclePartiallyFilled:
				partials = append(partials, octx)
			case cycleRetryable:
				retries = append(retries, octx)
			}
		}

		if triggerCtx == nil && len(fulls) > 0 {
			triggerCtx = fulls[0]
			siblings := siblingsOf(contexts, triggerCtx)
			for _, s := range siblings {
				handledByTrigger[s] = true
			}

			err, rb := runFullFillHandler(ctx, triggerCtx, siblings, placer, e.reconciler, e.hedges, e.imbalance, rollbackOnPartial, e.logger)
			if err != nil {
				hedgeErr = err
			}
			needsRollback = needsRollback || rb
		} else if triggerCtx == nil && len(partials) > 0 {
			completed := partials[0]
			handledByTrigger[completed] = true
			siblings := siblingsOf(contexts, completed)
			for _, s := range siblings {
				handledByTrigger[s] = true
			}

			err, rb := runPartialFillHandler(ctx, completed, siblings, e.reconciler, e.hedges, rollbackOnPartial)
			if err != nil {
				hedgeErr = err
			}
			needsRollback = needsRollback || rb
		}

		for _, octx := range retries {
			if handledByTrigger[octx] {
				continue
			}
			octx.Done = make(chan struct{})
			pending++
			runTask(octx)
		}
	}

	rollbackCostUSD := decimal.Zero
	rollbackPerformed := false

	if needsRollback {
		inputs := buildRollbackInputs(contexts)
		cost, err := e.rollback.Execute(ctx, inputs, nil, batchID)
		rollbackCostUSD = cost
		rollbackPerformed = true
		if err != nil && e.logger != nil {
			e.logger.Error("rollback-anomaly", zap.Error(err))
		}
		for _, octx := range contexts {
			octx.ResetFills()
		}
	}

	outcome := e.validator.Validate(ctx, contexts, rollbackPerformed, hedgeErr)

	if outcome.RequiresRollback && !rollbackPerformed {
		inputs := buildRollbackInputs(contexts)
		cost, err := e.rollback.Execute(ctx, inputs, nil, batchID)
		rollbackCostUSD = rollbackCostUSD.Add(cost)
		rollbackPerformed = true
		if err != nil && e.logger != nil {
			e.logger.Error("rollback-anomaly", zap.Error(err))
		}
		for _, octx := range contexts {
			octx.ResetFills()
		}
		outcome = e.validator.Validate(ctx, contexts, rollbackPerformed, hedgeErr)
	}

	result := buildBatchResult(contexts, outcome, rollbackPerformed, rollbackCostUSD)

	if result.Success {
		BatchesTotal.WithLabelValues("success").Inc()
	} else if rollbackPerformed {
		BatchesTotal.WithLabelValues("rolled_back").Inc()
	} else {
		BatchesTotal.WithLabelValues("partial").Inc()
	}

	return result
}

func siblingsOf(all []*OrderContext, trigger *OrderContext) []*OrderContext {
	siblings := make([]*OrderContext, 0, len(all)-1)
	for _, c := range all {
		if c != trigger {
			siblings = append(siblings, c)
		}
	}
	return siblings
}

func buildRollbackInputs(contexts []*OrderContext) []RollbackInput {
	inputs := make([]RollbackInput, 0, len(contexts))
	for _, octx := range contexts {
		filled := octx.FilledQuantity()
		if !filled.IsPositive() {
			continue
		}
		result := octx.Result()
		orderID := ""
		fillPrice := decimal.Zero
		if result != nil {
			orderID = result.OrderID
			fillPrice = result.FillPrice
		}
		inputs = append(inputs, RollbackInput{
			Venue:        octx.Spec.Venue,
			Symbol:       octx.Spec.Symbol,
			Side:         octx.Spec.Side,
			Quantity:     filled,
			FillPrice:    fillPrice,
			OrderID:      orderID,
			ReduceOnly:   octx.Spec.ReduceOnly,
			SpecQuantity: octx.Spec.Quantity,
		})
	}
	return inputs
}

func buildBatchResult(contexts []*OrderContext, outcome *ValidationOutcome, rollbackPerformed bool, rollbackCost decimal.Decimal) *BatchResult {
	result := &BatchResult{
		Success:           outcome.Success,
		RollbackPerformed: rollbackPerformed,
		RollbackCostUSD:   rollbackCost,
	}

	if outcome.Report != nil {
		result.ResidualImbalanceTokens = outcome.Report.ImbalanceTokens
	}

	allFilled := true
	for _, octx := range contexts {
		filled := octx.FilledQuantity()
		if filled.IsPositive() {
			resultInfo := octx.Result()
			price := decimal.Zero
			orderID := ""
			if resultInfo != nil {
				price = resultInfo.FillPrice
				orderID = resultInfo.OrderID
			}
			result.FilledOrders = append(result.FilledOrders, FilledOrder{
				Venue:          octx.Spec.Venue,
				Symbol:         octx.Spec.Symbol,
				Side:           octx.Spec.Side,
				Quantity:       filled,
				FillPrice:      price,
				OrderID:        orderID,
				ReduceOnly:     octx.Spec.ReduceOnly,
				OriginalTarget: octx.Spec.Quantity,
			})
		}

		if octx.RemainingQuantity().IsPositive() {
			allFilled = false
			if filled.IsPositive() {
				result.PartialFills = append(result.PartialFills, PartialFillRecord{
					Venue:  octx.Spec.Venue.Name(),
					Symbol: octx.Spec.Symbol,
					Filled: filled,
					Target: octx.Spec.Quantity,
				})
			}
		}
	}
	result.AllFilled = allFilled

	if !outcome.Success {
		result.HasError = true
		result.ErrorMessage = outcome.ErrorMessage
	}

	return result
}
