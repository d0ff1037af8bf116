package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/atomic-exec/pkg/dedupe"
)

// balanceBufferMultiplier is the 5% margin buffer required above the
// computed requirement before a balance check passes.
var balanceBufferMultiplier = decimal.NewFromFloat(1.05)

// notificationThrottleTTL bounds how often the same (venue, symbol)
// pre-flight failure is re-logged at warn level.
var notificationThrottleTTL = 5 * time.Minute

// PreFlightChecker runs the four sequenced gates (leverage, balance,
// liquidity, min-notional) before any order in a batch is placed.
type PreFlightChecker struct {
	leverage  *LeverageValidator
	liquidity *LiquidityAnalyzer
	throttle  dedupe.Store
	logger    *zap.Logger
}

// PreFlightCheckerConfig configures a PreFlightChecker.
type PreFlightCheckerConfig struct {
	Leverage  *LeverageValidator
	Liquidity *LiquidityAnalyzer
	Throttle  dedupe.Store
	Logger    *zap.Logger
}

// NewPreFlightChecker creates a PreFlightChecker. If cfg.Throttle is nil an
// in-memory throttle store is used.
func NewPreFlightChecker(cfg *PreFlightCheckerConfig) *PreFlightChecker {
	throttle := cfg.Throttle
	if throttle == nil {
		throttle = dedupe.NewMemoryStore()
	}
	return &PreFlightChecker{
		leverage:  cfg.Leverage,
		liquidity: cfg.Liquidity,
		throttle:  throttle,
		logger:    cfg.Logger,
	}
}

// Check runs all four stages against orders, short-circuiting on the first
// failure. skipLeverage corresponds to execute_atomically's
// skip_leverage_check argument.
func (c *PreFlightChecker) Check(ctx context.Context, orders []*OrderSpec, skipLeverage bool) error {
	if !skipLeverage {
		if err := c.checkLeverage(ctx, orders); err != nil {
			PreFlightRejectionsTotal.WithLabelValues("leverage").Inc()
			return err
		}
	}

	if err := c.checkBalance(ctx, orders); err != nil {
		PreFlightRejectionsTotal.WithLabelValues("balance").Inc()
		return err
	}

	if err := c.checkLiquidity(ctx, orders); err != nil {
		PreFlightRejectionsTotal.WithLabelValues("liquidity").Inc()
		return err
	}

	if err := c.checkMinNotional(orders); err != nil {
		PreFlightRejectionsTotal.WithLabelValues("min_notional").Inc()
		return err
	}

	return nil
}

func (c *PreFlightChecker) checkLeverage(ctx context.Context, orders []*OrderSpec) error {
	if c.leverage == nil {
		return nil
	}

	checks, err := c.leverage.NormalizeBatch(ctx, orders)
	if err != nil {
		return &PreFlightFailure{Stage: "leverage", Message: err.Error()}
	}
	for i, check := range checks {
		if !check.OK {
			return &PreFlightFailure{
				Stage:   "leverage",
				Message: fmt.Sprintf("%s %s: %s", orders[i].Venue.Name(), orders[i].Symbol, check.Reason),
			}
		}
	}
	return nil
}

// checkBalance confirms each leg's account has enough margin for its
// size_usd. When checkLeverage already normalized this (venue, symbol)
// pair in the same batch, its cached leverage and max_size_usd are reused
// instead of re-fetched; otherwise it falls back to the venue's raw
// leverage info (e.g. when leverage checking was skipped for the batch).
func (c *PreFlightChecker) checkBalance(ctx context.Context, orders []*OrderSpec) error {
	for _, spec := range orders {
		balance, hasBalance, err := spec.Venue.GetAccountBalance(ctx)
		if err != nil {
			return &PreFlightFailure{Stage: "balance", Message: err.Error()}
		}
		if !hasBalance {
			continue
		}

		leverage := decimal.NewFromInt(1)
		haveLeverage := false
		maxSizeUSD := balance
		haveMaxSizeUSD := false

		if c.leverage != nil {
			if cachedLev, ok := c.leverage.NormalizedLeverage(spec.Venue.Name(), spec.Symbol); ok && cachedLev.IsPositive() {
				leverage = cachedLev
				haveLeverage = true
			}
			if cachedMax, ok := c.leverage.CachedMaxSizeUSD(spec.Venue.Name(), spec.Symbol); ok {
				maxSizeUSD = cachedMax
				haveMaxSizeUSD = true
			}
		}

		if !haveLeverage || !haveMaxSizeUSD {
			info, err := spec.Venue.GetLeverageInfo(ctx, spec.Symbol)
			if err != nil {
				return &PreFlightFailure{Stage: "balance", Message: err.Error()}
			}
			if !haveLeverage && info.HasMaxLeverage && info.MaxLeverage.IsPositive() {
				leverage = info.MaxLeverage
			}
			if !haveMaxSizeUSD {
				maxSizeUSD = MaxAffordableSize(balance, info)
			}
		}

		required := spec.SizeUSD.Div(leverage)
		if balance.LessThan(required.Mul(balanceBufferMultiplier)) {
			c.notifyThrottled(ctx, spec, "balance")
			return &PreFlightFailure{
				Stage: "balance",
				Message: fmt.Sprintf("%s %s: balance %s below required %s (5%% buffer)",
					spec.Venue.Name(), spec.Symbol, balance, required.Mul(balanceBufferMultiplier)),
			}
		}

		if spec.SizeUSD.GreaterThan(maxSizeUSD) {
			c.notifyThrottled(ctx, spec, "balance")
			return &PreFlightFailure{
				Stage: "balance",
				Message: fmt.Sprintf("%s %s: size_usd %s exceeds max affordable size %s",
					spec.Venue.Name(), spec.Symbol, spec.SizeUSD, maxSizeUSD),
			}
		}
	}
	return nil
}

func (c *PreFlightChecker) checkLiquidity(ctx context.Context, orders []*OrderSpec) error {
	if c.liquidity == nil {
		return nil
	}

	for _, spec := range orders {
		qty := spec.EffectiveQuantity(decimal.Zero)
		if !qty.IsPositive() {
			continue
		}

		report, err := c.liquidity.Assess(ctx, spec.Venue, spec.Symbol, spec.Side, qty)
		if err != nil {
			return &PreFlightFailure{Stage: "liquidity", Message: err.Error()}
		}
		if !report.Sufficient {
			return &PreFlightFailure{
				Stage:   "liquidity",
				Message: fmt.Sprintf("%s %s: %s", spec.Venue.Name(), spec.Symbol, report.Reason),
			}
		}
	}
	return nil
}

func (c *PreFlightChecker) checkMinNotional(orders []*OrderSpec) error {
	for _, spec := range orders {
		minNotional, ok := spec.Venue.MinOrderNotional(spec.Symbol)
		if !ok {
			continue
		}
		if spec.SizeUSD.LessThan(minNotional) {
			return &PreFlightFailure{
				Stage: "min_notional",
				Message: fmt.Sprintf("%s %s: size_usd %s below minimum %s",
					spec.Venue.Name(), spec.Symbol, spec.SizeUSD, minNotional),
			}
		}
	}
	return nil
}

func (c *PreFlightChecker) notifyThrottled(ctx context.Context, spec *OrderSpec, stage string) {
	if c.logger == nil {
		return
	}
	key := stage + ":" + spec.Venue.Name() + ":" + spec.Symbol
	firstSeen, err := c.throttle.MarkIfAbsent(ctx, key, notificationThrottleTTL)
	if err != nil || firstSeen {
		c.logger.Warn("preflight-rejection", zap.String("stage", stage), zap.String("venue", spec.Venue.Name()), zap.String("symbol", spec.Symbol))
	}
}
