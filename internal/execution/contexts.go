package execution

import (
	"sync"

	"github.com/shopspring/decimal"
)

// sanityCapMultiplier is the 1.10x ceiling on filled_quantity relative to
// spec.Quantity / hedge_target_quantity.
var sanityCapMultiplier = decimal.NewFromFloat(1.10)

// fillTargetTolerance is the 0.99 fraction of target treated as "close
// enough to declare hedge success".
var fillTargetTolerance = decimal.NewFromFloat(0.99)

// PlacementOutcome is the dictionary-shaped result of a single-order
// placement task: never an error, always a classifiable value.
type PlacementOutcome struct {
	Success           bool
	Filled            bool
	FillPrice         decimal.Decimal
	FilledQuantity    decimal.Decimal
	SlippageUSD       decimal.Decimal
	ExecutionModeUsed ExecutionMode
	OrderID           string
	Retryable         bool
	Err               error
}

// OrderContext is the mutable per-leg runtime state owned exclusively by
// the executor for the duration of one batch. WebsocketRouter
// holds only a registered-by-id weak reference and mutates fields through
// the exported methods below, which are safe for concurrent callback
// invocation.
type OrderContext struct {
	Spec         *OrderSpec
	CancelSignal *CancelSignal
	Done         chan struct{} // closed when the order task finishes

	mu                 sync.Mutex
	result             *PlacementOutcome
	completed          bool
	filledQuantity     decimal.Decimal
	filledUSD          decimal.Decimal
	hedgeTargetQuantity decimal.Decimal
	hasHedgeTarget      bool
	websocketCancelled  bool
	wsReportedFilled    decimal.Decimal // final filled_size per websocket CANCELED/FILLED status
	hasWSReportedFilled bool
}

// NewOrderContext creates a fresh context for one leg of a batch.
func NewOrderContext(spec *OrderSpec) *OrderContext {
	return &OrderContext{
		Spec:         spec,
		CancelSignal: NewCancelSignal(),
		Done:         make(chan struct{}),
	}
}

// SetResult stores the task's placement outcome (set once the task
// completes, from the executor goroutine only).
func (c *OrderContext) SetResult(r *PlacementOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = r
}

// Result returns the last-known placement outcome, if any.
func (c *OrderContext) Result() *PlacementOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// MarkCompleted flags the context's task as finished.
func (c *OrderContext) MarkCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = true
}

// Completed reports whether the context's task has finished.
func (c *OrderContext) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// FilledQuantity returns the accumulated base-unit fill (invariant: monotone
// non-decreasing).
func (c *OrderContext) FilledQuantity() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filledQuantity
}

// FilledUSD returns accumulated filled notional, always <= spec.SizeUSD.
func (c *OrderContext) FilledUSD() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filledUSD
}

// SetHedgeTarget installs a post-trigger target quantity (sibling-venue
// units), capped at spec.Quantity * 1.10 with the cap application left to
// the caller (full-fill/partial-fill handlers), so this setter just stores
// the value verbatim.
func (c *OrderContext) SetHedgeTarget(qty decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hedgeTargetQuantity = qty
	c.hasHedgeTarget = true
}

// HedgeTarget returns the installed hedge target, if any.
func (c *OrderContext) HedgeTarget() (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hedgeTargetQuantity, c.hasHedgeTarget
}

// WebsocketCancelled reports whether a websocket CANCELED status was
// observed for this leg.
func (c *OrderContext) WebsocketCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.websocketCancelled
}

// RemainingQuantity is max(0, hedge_target ?? spec.Quantity - filled).
func (c *OrderContext) RemainingQuantity() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target decimal.Decimal
	if c.hasHedgeTarget {
		target = c.hedgeTargetQuantity
	} else if c.Spec.HasQuantity {
		target = c.Spec.Quantity
	} else {
		return decimal.Zero
	}

	remaining := target.Sub(c.filledQuantity)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// RemainingUSD is max(0, size_usd - filled_usd).
func (c *OrderContext) RemainingUSD() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.Spec.SizeUSD.Sub(c.filledUSD)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// RecordFill accumulates an executed quantity and its USD notional.
// Recording a zero quantity is a no-op; negative fills are rejected.
// Accumulated filled_usd is capped at spec.SizeUSD.
// Not idempotent: each call adds quantity, so callers pass only incremental deltas.
func (c *OrderContext) RecordFill(quantity, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordFillLocked(quantity, price)
}

func (c *OrderContext) recordFillLocked(quantity, price decimal.Decimal) {
	if !quantity.IsPositive() {
		return
	}

	c.filledQuantity = c.filledQuantity.Add(quantity)

	if price.IsPositive() {
		c.filledUSD = c.filledUSD.Add(quantity.Mul(price))
	} else if c.filledUSD.IsZero() {
		c.filledUSD = c.Spec.SizeUSD
	}

	if c.filledUSD.GreaterThan(c.Spec.SizeUSD) {
		c.filledUSD = c.Spec.SizeUSD
	}

	if c.result != nil {
		c.result.FilledQuantity = c.filledQuantity
		if price.IsPositive() {
			c.result.FillPrice = price
		}
	}
}

// SanityCap returns spec.Quantity (or hedge target, if set) * 1.10 — the
// absolute ceiling a single additional fill must never push filled past.
func (c *OrderContext) SanityCap() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var base decimal.Decimal
	if c.hasHedgeTarget {
		base = c.hedgeTargetQuantity
	} else if c.Spec.HasQuantity {
		base = c.Spec.Quantity
	}
	return base.Mul(sanityCapMultiplier)
}

// OnWebsocketFill applies an incremental fill reported by the
// WebsocketRouter's fill callback.
func (c *OrderContext) OnWebsocketFill(quantity, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordFillLocked(quantity, price)
}

// OnWebsocketStatus applies a status transition reported by the
// WebsocketRouter's status callback. On CANCELED it sets
// websocket_cancelled and records the final filled_size (the anti-spoof
// source of truth takes precedence over REST). On FILLED it ensures the
// context's total reaches the reported total.
func (c *OrderContext) OnWebsocketStatus(status OrderStatus, totalFilled, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch status {
	case OrderStatusCanceled:
		c.websocketCancelled = true
		c.wsReportedFilled = totalFilled
		c.hasWSReportedFilled = true
		if totalFilled.GreaterThan(c.filledQuantity) {
			additional := totalFilled.Sub(c.filledQuantity)
			c.recordFillLocked(additional, price)
		}
	case OrderStatusFilled:
		if totalFilled.GreaterThan(c.filledQuantity) {
			additional := totalFilled.Sub(c.filledQuantity)
			c.recordFillLocked(additional, price)
		}
	}
}

// WebsocketReportedFilled returns the filled_size last reported alongside a
// terminal websocket status, if any.
func (c *OrderContext) WebsocketReportedFilled() (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wsReportedFilled, c.hasWSReportedFilled
}

// ResetFills zeroes accumulated fills. Called once after a rollback
// completes so no subsequent path can re-trigger a second rollback on the
// same fills.
func (c *OrderContext) ResetFills() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filledQuantity = decimal.Zero
	c.filledUSD = decimal.Zero
}
