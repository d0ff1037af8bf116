package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// LeverageCheck is the per-venue outcome of leverage normalization and the
// max-affordable-size check.
type LeverageCheck struct {
	OK              bool
	Reason          string
	AppliedLeverage decimal.Decimal
	MaxNotional     decimal.Decimal
	HasMaxNotional  bool
	MaxSizeUSD      decimal.Decimal
	HasMaxSizeUSD   bool
}

// cachedNormalization is what NormalizeBatch remembers about one
// (venue, symbol) pair so the balance stage can reuse it instead of
// re-deriving it from scratch.
type cachedNormalization struct {
	leverage   decimal.Decimal
	maxSizeUSD decimal.Decimal
	hasMaxSize bool
}

// LeverageValidator normalizes leverage across venues sharing a symbol
// before a batch places any order, so margin requirements cannot silently
// diverge between legs. For each symbol it computes, per participating
// venue, max_size_usd = min(max_notional, normalized_leverage*balance,
// balance/margin_requirement), derives normalized_leverage as the lesser of
// the target leverage and the minimum max_leverage across those venues,
// applies it via SetLeverage, and caches
// both values so a later balance check can consume them rather than
// re-fetching leverage info independently.
type LeverageValidator struct {
	targetLeverage decimal.Decimal

	mu     sync.Mutex
	cached map[string]cachedNormalization // "venue:symbol"
}

// NewLeverageValidator creates a LeverageValidator targeting leverage for
// every venue it normalizes. A zero target leaves each symbol's leverage at
// the minimum max_leverage reported across its participating venues.
func NewLeverageValidator(targetLeverage decimal.Decimal) *LeverageValidator {
	return &LeverageValidator{targetLeverage: targetLeverage, cached: map[string]cachedNormalization{}}
}

func leverageCacheKey(venueName, symbol string) string {
	return venueName + ":" + symbol
}

// NormalizedLeverage returns the leverage the most recent NormalizeBatch
// call established for venue/symbol, if any.
func (v *LeverageValidator) NormalizedLeverage(venueName, symbol string) (decimal.Decimal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cached[leverageCacheKey(venueName, symbol)]
	if !ok {
		return decimal.Zero, false
	}
	return entry.leverage, true
}

// CachedMaxSizeUSD returns the max_size_usd the most recent NormalizeBatch
// call computed for venue/symbol, if any.
func (v *LeverageValidator) CachedMaxSizeUSD(venueName, symbol string) (decimal.Decimal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cached[leverageCacheKey(venueName, symbol)]
	if !ok || !entry.hasMaxSize {
		return decimal.Zero, false
	}
	return entry.maxSizeUSD, true
}

func (v *LeverageValidator) setCached(venueName, symbol string, entry cachedNormalization) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cached[leverageCacheKey(venueName, symbol)] = entry
}

// NormalizeBatch groups orders by symbol. For each group it reads every
// participating venue's leverage info and account balance, derives
// normalized_leverage = min(target_leverage, min(max_leverage across those
// venues)), applies it venue by venue, and checks each spec's size_usd
// against max_size_usd = min(max_notional, normalized_leverage*balance,
// balance/margin_requirement). Returns one check per input spec, in input
// order, and caches the normalization for the balance pre-flight stage.
func (v *LeverageValidator) NormalizeBatch(ctx context.Context, orders []*OrderSpec) ([]*LeverageCheck, error) {
	bySymbol := make(map[string][]*OrderSpec)
	for _, spec := range orders {
		bySymbol[spec.Symbol] = append(bySymbol[spec.Symbol], spec)
	}

	results := make(map[*OrderSpec]*LeverageCheck, len(orders))

	for _, group := range bySymbol {
		infos := make(map[*OrderSpec]*LeverageInfo, len(group))
		balances := make(map[*OrderSpec]decimal.Decimal, len(group))

		minMaxLeverage := decimal.Zero
		haveMaxLeverage := false

		for _, spec := range group {
			info, err := spec.Venue.GetLeverageInfo(ctx, spec.Symbol)
			if err != nil {
				return nil, fmt.Errorf("leverage info %s %s: %w", spec.Venue.Name(), spec.Symbol, err)
			}
			infos[spec] = info

			if balance, hasBalance, err := spec.Venue.GetAccountBalance(ctx); err != nil {
				return nil, fmt.Errorf("account balance %s: %w", spec.Venue.Name(), err)
			} else if hasBalance {
				balances[spec] = balance
			}

			if info.HasMaxLeverage && (!haveMaxLeverage || info.MaxLeverage.LessThan(minMaxLeverage)) {
				minMaxLeverage = info.MaxLeverage
				haveMaxLeverage = true
			}
		}

		normalizedLeverage := v.targetLeverage
		if haveMaxLeverage && (normalizedLeverage.IsZero() || minMaxLeverage.LessThan(normalizedLeverage)) {
			normalizedLeverage = minMaxLeverage
		}

		if normalizedLeverage.IsZero() {
			normalizedLeverage = decimal.NewFromInt(1)
		}

		for _, spec := range group {
			info := infos[spec]

			if v.targetLeverage.IsPositive() || haveMaxLeverage {
				if err := spec.Venue.SetLeverage(ctx, spec.Symbol, normalizedLeverage); err != nil {
					return nil, fmt.Errorf("set leverage %s %s: %w", spec.Venue.Name(), spec.Symbol, err)
				}
			}

			maxSizeUSD := decimal.Zero
			hasMaxSizeUSD := false
			if info.HasMaxNotional {
				maxSizeUSD, hasMaxSizeUSD = info.MaxNotional, true
			}
			if balance, ok := balances[spec]; ok {
				leveredBalance := balance.Mul(normalizedLeverage)
				if !hasMaxSizeUSD || leveredBalance.LessThan(maxSizeUSD) {
					maxSizeUSD, hasMaxSizeUSD = leveredBalance, true
				}
				if info.HasMargin && info.MarginRequirement.IsPositive() {
					marginCapped := balance.Div(info.MarginRequirement)
					if !hasMaxSizeUSD || marginCapped.LessThan(maxSizeUSD) {
						maxSizeUSD, hasMaxSizeUSD = marginCapped, true
					}
				}
			}

			v.setCached(spec.Venue.Name(), spec.Symbol, cachedNormalization{
				leverage:   normalizedLeverage,
				maxSizeUSD: maxSizeUSD,
				hasMaxSize: hasMaxSizeUSD,
			})

			check := &LeverageCheck{
				OK:              true,
				AppliedLeverage: normalizedLeverage,
				MaxNotional:     info.MaxNotional,
				HasMaxNotional:  info.HasMaxNotional,
				MaxSizeUSD:      maxSizeUSD,
				HasMaxSizeUSD:   hasMaxSizeUSD,
			}

			if hasMaxSizeUSD && spec.SizeUSD.GreaterThan(maxSizeUSD) {
				check.OK = false
				check.Reason = fmt.Sprintf("size_usd %s exceeds max affordable size %s at normalized leverage %s",
					spec.SizeUSD, maxSizeUSD, normalizedLeverage)
			}

			results[spec] = check
		}
	}

	ordered := make([]*LeverageCheck, len(orders))
	for i, spec := range orders {
		ordered[i] = results[spec]
	}
	return ordered, nil
}

// MaxAffordableSize returns min(balance, maxNotional) given a venue's
// reported account balance and leverage info, used by the balance
// pre-flight stage as a fallback when no cached normalization exists for
// the (venue, symbol) pair (e.g. leverage checking was skipped).
func MaxAffordableSize(balance decimal.Decimal, info *LeverageInfo) decimal.Decimal {
	if info == nil || !info.HasMaxNotional {
		return balance
	}
	if balance.LessThan(info.MaxNotional) {
		return balance
	}
	return info.MaxNotional
}
