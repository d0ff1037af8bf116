package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/atomic-exec/pkg/dedupe"
)

// residualZeroTolerance is the token quantity below which a position is
// treated as already flat.
var residualZeroTolerance = decimal.NewFromFloat(0.0001)

// rollbackCancelPropagationDelay is the brief pause after cancelling open
// orders, letting venues propagate the cancel before exposure discovery.
var rollbackCancelPropagationDelay = 250 * time.Millisecond

// rollbackIdempotenceTTL bounds how long a (venue, symbol, batch) close is
// remembered, so a second rollback pass triggered for the same batch (e.g.
// a caller retrying ExecuteAtomically's return value handling) never
// re-issues a close order for a leg already flattened.
var rollbackIdempotenceTTL = 10 * time.Minute

// RollbackInput describes one filled leg considered for emergency closure.
type RollbackInput struct {
	Venue      VenueClient
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	FillPrice  decimal.Decimal
	OrderID    string
	ReduceOnly bool
	SpecQuantity decimal.Decimal
}

// discoveredClose is one position RollbackManager has decided to flatten.
type discoveredClose struct {
	venue     VenueClient
	symbol    string
	side      Side // side of the CLOSE order (opposite of the open exposure)
	quantity  decimal.Decimal
	entryPrice decimal.Decimal
}

// RollbackManager performs the four-step emergency close: cancel any
// still-open orders, discover the actual exposure, close it concurrently,
// then verify nothing residual survives.
type RollbackManager struct {
	logger      *zap.Logger
	idempotence dedupe.Store
}

// RollbackManagerConfig configures a RollbackManager.
type RollbackManagerConfig struct {
	Logger      *zap.Logger
	Idempotence dedupe.Store
}

// NewRollbackManager creates a RollbackManager backed by an in-memory
// idempotence store.
func NewRollbackManager(logger *zap.Logger) *RollbackManager {
	return &RollbackManager{logger: logger, idempotence: dedupe.NewMemoryStore()}
}

// NewRollbackManagerWithConfig creates a RollbackManager backed by a
// caller-supplied idempotence store (e.g. Redis, for multi-process
// deployments sharing a venue roster).
func NewRollbackManagerWithConfig(cfg *RollbackManagerConfig) *RollbackManager {
	store := cfg.Idempotence
	if store == nil {
		store = dedupe.NewMemoryStore()
	}
	return &RollbackManager{logger: cfg.Logger, idempotence: store}
}

// Execute runs the full rollback sequence for inputs, which may represent
// either an "open" batch (positions just acquired, now need flattening) or
// a "close" batch (the batch itself was reducing an existing position).
// batchID scopes the idempotence ledger so a retried rollback for the same
// batch never re-closes a leg this manager already flattened.
func (m *RollbackManager) Execute(ctx context.Context, inputs []RollbackInput, openOrderIDs []orderCancelTarget, batchID string) (costUSD decimal.Decimal, err error) {
	m.cancelOpenOrders(ctx, openOrderIDs)

	isCloseOperation := false
	for _, in := range inputs {
		if in.ReduceOnly {
			isCloseOperation = true
			break
		}
	}

	closes := m.discoverExposure(ctx, inputs, isCloseOperation)
	if len(closes) == 0 {
		RollbacksTotal.WithLabelValues(rollbackKind(isCloseOperation)).Inc()
		return decimal.Zero, nil
	}

	cost := m.closeAll(ctx, closes, batchID)
	RollbackCostUSD.Observe(costUSDToFloat(cost))
	RollbacksTotal.WithLabelValues(rollbackKind(isCloseOperation)).Inc()

	if verifyErr := m.verify(ctx, closes); verifyErr != nil {
		return cost, verifyErr
	}

	return cost, nil
}

func rollbackKind(isClose bool) string {
	if isClose {
		return "close"
	}
	return "open"
}

func costUSDToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// orderCancelTarget identifies a still-open order to cancel in step 1.
type orderCancelTarget struct {
	Venue   VenueClient
	OrderID string
}

func (m *RollbackManager) cancelOpenOrders(ctx context.Context, targets []orderCancelTarget) {
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t orderCancelTarget) {
			defer wg.Done()
			if _, err := t.Venue.Cancel(ctx, t.OrderID); err != nil && m.logger != nil {
				m.logger.Warn("rollback-cancel-failed", zap.String("venue", t.Venue.Name()), zap.String("order_id", t.OrderID), zap.Error(err))
			}
		}(t)
	}
	wg.Wait()

	time.Sleep(rollbackCancelPropagationDelay)
}

// discoverExposure re-reads each venue's position snapshot to find what's
// actually open, rather than trusting local fill bookkeeping.
func (m *RollbackManager) discoverExposure(ctx context.Context, inputs []RollbackInput, isCloseOperation bool) []discoveredClose {
	if isCloseOperation {
		return m.discoverFromSnapshots(ctx, inputs)
	}
	return m.discoverFromPayloadWithDefenseInDepth(ctx, inputs)
}

func (m *RollbackManager) discoverFromSnapshots(ctx context.Context, inputs []RollbackInput) []discoveredClose {
	seen := make(map[string]bool)
	var closes []discoveredClose

	for _, in := range inputs {
		key := in.Venue.Name() + ":" + in.Symbol
		if seen[key] {
			continue
		}
		seen[key] = true

		snap, err := in.Venue.GetPositionSnapshot(ctx, in.Symbol)
		if err != nil || snap == nil || !snap.HasPosition {
			continue
		}
		if snap.Quantity.Abs().LessThanOrEqual(residualZeroTolerance) {
			continue
		}

		closeSide := SideSell
		if snap.Quantity.IsNegative() {
			closeSide = SideBuy
		}

		closes = append(closes, discoveredClose{
			venue:    in.Venue,
			symbol:   in.Symbol,
			side:     closeSide,
			quantity: snap.Quantity.Abs(),
		})
	}

	return closes
}

func (m *RollbackManager) discoverFromPayloadWithDefenseInDepth(ctx context.Context, inputs []RollbackInput) []discoveredClose {
	var closes []discoveredClose
	covered := make(map[string]bool)

	for _, in := range inputs {
		if in.SpecQuantity.IsPositive() && in.Quantity.GreaterThan(in.SpecQuantity.Mul(sanityCapMultiplier)) {
			if m.logger != nil {
				m.logger.Warn("rollback-payload-rejected-sanity-cap",
					zap.String("venue", in.Venue.Name()), zap.String("symbol", in.Symbol), zap.String("quantity", in.Quantity.String()))
			}
			continue
		}
		if !in.Quantity.IsPositive() {
			continue
		}

		key := in.Venue.Name() + ":" + in.Symbol
		covered[key] = true

		qty := in.Quantity
		snap, err := in.Venue.GetPositionSnapshot(ctx, in.Symbol)
		if err == nil && snap != nil && snap.HasPosition {
			if snap.Quantity.Abs().Sub(qty).Abs().GreaterThan(residualZeroTolerance) {
				qty = snap.Quantity.Abs()
			}
		}

		closes = append(closes, discoveredClose{
			venue:      in.Venue,
			symbol:     in.Symbol,
			side:       in.Side.Opposite(),
			quantity:   qty,
			entryPrice: in.FillPrice,
		})
	}

	for _, in := range inputs {
		key := in.Venue.Name() + ":" + in.Symbol
		if covered[key] {
			continue
		}
		covered[key] = true

		snap, err := in.Venue.GetPositionSnapshot(ctx, in.Symbol)
		if err != nil || snap == nil || !snap.HasPosition {
			continue
		}
		if snap.Quantity.Abs().LessThanOrEqual(residualZeroTolerance) {
			continue
		}

		closeSide := SideSell
		if snap.Quantity.IsNegative() {
			closeSide = SideBuy
		}

		if m.logger != nil {
			m.logger.Warn("rollback-defense-in-depth-position-found",
				zap.String("venue", in.Venue.Name()), zap.String("symbol", in.Symbol), zap.String("quantity", snap.Quantity.String()))
		}

		closes = append(closes, discoveredClose{
			venue:    in.Venue,
			symbol:   in.Symbol,
			side:     closeSide,
			quantity: snap.Quantity.Abs(),
		})
	}

	return closes
}

// closeAll issues concurrent reduce_only market closes, summing realized
// cost across legs. Each leg is first checked
// against the idempotence ledger so a retried rollback for batchID never
// re-issues a close for a leg this manager already flattened.
func (m *RollbackManager) closeAll(ctx context.Context, closes []discoveredClose, batchID string) decimal.Decimal {
	var mu sync.Mutex
	var totalCost decimal.Decimal
	var wg sync.WaitGroup

	for _, c := range closes {
		wg.Add(1)
		go func(c discoveredClose) {
			defer wg.Done()

			ledgerKey := "rollback:" + batchID + ":" + c.venue.Name() + ":" + c.symbol
			if firstSeen, err := m.idempotence.MarkIfAbsent(ctx, ledgerKey, rollbackIdempotenceTTL); err == nil && !firstSeen {
				if m.logger != nil {
					m.logger.Info("rollback-close-skipped-idempotent", zap.String("venue", c.venue.Name()), zap.String("symbol", c.symbol))
				}
				return
			}

			contractID, err := resolveContract(c.venue, c.symbol)
			if err != nil {
				if m.logger != nil {
					m.logger.Error("rollback-close-failed", zap.String("venue", c.venue.Name()), zap.String("symbol", c.symbol), zap.Error(err))
				}
				return
			}

			result, err := c.venue.PlaceMarket(ctx, contractID, c.quantity, c.side, true)
			if err != nil {
				if m.logger != nil {
					m.logger.Error("rollback-close-failed", zap.String("venue", c.venue.Name()), zap.String("symbol", c.symbol), zap.Error(err))
				}
				return
			}

			info, err := confirmOrder(ctx, c.venue, result.OrderID, 5*time.Second, nil)
			if err != nil || info == nil {
				return
			}

			if c.entryPrice.IsPositive() && info.Price.IsPositive() {
				cost := info.Price.Sub(c.entryPrice).Abs().Mul(info.FilledSize)
				mu.Lock()
				totalCost = totalCost.Add(cost)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	return totalCost
}

// verify re-reads each venue's position snapshot to confirm nothing
// residual survived the close pass.
func (m *RollbackManager) verify(ctx context.Context, closes []discoveredClose) error {
	var anomaly error

	for _, c := range closes {
		snap, err := c.venue.GetPositionSnapshot(ctx, c.symbol)
		if err != nil || snap == nil || !snap.HasPosition {
			continue
		}
		if snap.Quantity.Abs().LessThanOrEqual(residualZeroTolerance) {
			continue
		}

		RollbackAnomaliesTotal.Inc()
		if m.logger != nil {
			m.logger.Error("rollback-residual-position",
				zap.String("venue", c.venue.Name()), zap.String("symbol", c.symbol), zap.String("residual", snap.Quantity.String()))
		}

		closeSide := SideSell
		if snap.Quantity.IsNegative() {
			closeSide = SideBuy
		}
		emergencyContractID, err := resolveContract(c.venue, c.symbol)
		if err != nil {
			if m.logger != nil {
				m.logger.Error("rollback-emergency-close-failed", zap.String("venue", c.venue.Name()), zap.String("symbol", c.symbol), zap.Error(err))
			}
			anomaly = &RollbackAnomaly{Message: "residual position survived rollback verification on " + c.venue.Name() + " " + c.symbol}
			continue
		}
		if _, err := c.venue.PlaceMarket(ctx, emergencyContractID, snap.Quantity.Abs(), closeSide, true); err != nil && m.logger != nil {
			m.logger.Error("rollback-emergency-close-failed", zap.String("venue", c.venue.Name()), zap.String("symbol", c.symbol), zap.Error(err))
		}

		anomaly = &RollbackAnomaly{Message: "residual position survived rollback verification on " + c.venue.Name() + " " + c.symbol}
	}

	return anomaly
}
