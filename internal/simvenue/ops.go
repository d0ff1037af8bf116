package simvenue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mselser95/atomic-exec/internal/execution"
)

// Name implements execution.VenueClient.
func (v *Venue) Name() string { return v.cfg.Name }

// ResolveContractID implements execution.VenueClient. The reference venue
// has no separate contract-ID namespace; the symbol is its own ID.
func (v *Venue) ResolveContractID(symbol string) (string, error) {
	return symbol, nil
}

// RoundToTick implements execution.VenueClient.
func (v *Venue) RoundToTick(price decimal.Decimal) decimal.Decimal {
	return price.DivRound(v.cfg.Tick, 0).Mul(v.cfg.Tick)
}

// RoundToStep implements execution.VenueClient.
func (v *Venue) RoundToStep(qty decimal.Decimal) decimal.Decimal {
	return qty.DivRound(v.cfg.Step, 0).Mul(v.cfg.Step)
}

// TickSize implements execution.VenueClient.
func (v *Venue) TickSize(symbol string) (decimal.Decimal, bool) {
	return v.cfg.Tick, true
}

// MinOrderNotional implements execution.VenueClient. The reference venue
// imposes no minimum.
func (v *Venue) MinOrderNotional(symbol string) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

// QuantityMultiplier implements execution.VenueClient.
func (v *Venue) QuantityMultiplier(symbol string) int64 {
	return v.cfg.Multiplier
}

// GetBBO implements execution.VenueClient.
func (v *Venue) GetBBO(ctx context.Context, symbol string) (bid, ask decimal.Decimal, err error) {
	return v.cfg.Bid, v.cfg.Ask, nil
}

// GetOrderBook implements execution.VenueClient with a single synthetic
// level on each side.
func (v *Venue) GetOrderBook(ctx context.Context, symbol string, levels int) (*execution.OrderBook, error) {
	return &execution.OrderBook{
		Bids: []execution.PriceLevel{{Price: v.cfg.Bid, Size: decimal.NewFromInt(1000)}},
		Asks: []execution.PriceLevel{{Price: v.cfg.Ask, Size: decimal.NewFromInt(1000)}},
	}, nil
}

// PlaceLimit implements execution.VenueClient.
func (v *Venue) PlaceLimit(ctx context.Context, contractID string, qty, price decimal.Decimal, side execution.Side, reduceOnly bool) (*execution.OrderResult, error) {
	return v.place(qty, price)
}

// PlaceMarket implements execution.VenueClient.
func (v *Venue) PlaceMarket(ctx context.Context, contractID string, qty decimal.Decimal, side execution.Side, reduceOnly bool) (*execution.OrderResult, error) {
	ref := v.cfg.Ask
	if side == execution.SideSell {
		ref = v.cfg.Bid
	}
	return v.place(qty, ref)
}

func (v *Venue) place(qty, price decimal.Decimal) (*execution.OrderResult, error) {
	if v.cfg.RejectionReason != "" {
		return &execution.OrderResult{Success: false, Error: v.cfg.RejectionReason}, nil
	}

	v.mu.Lock()
	v.nextID++
	id := v.cfg.Name + "-sim-" + strconv.Itoa(v.nextID)
	v.orders[id] = &execution.OrderInfo{
		OrderID:       id,
		Status:        execution.OrderStatusOpen,
		Size:          qty,
		FilledSize:    decimal.Zero,
		RemainingSize: qty,
		Price:         price,
	}
	v.mu.Unlock()

	v.scheduleFill(id, qty, price)

	return &execution.OrderResult{Success: true, OrderID: id}, nil
}

func (v *Venue) scheduleFill(orderID string, qty, price decimal.Decimal) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		<-time.After(v.cfg.FillLatency)

		v.mu.Lock()
		info, ok := v.orders[orderID]
		if ok {
			info.FilledSize = qty
			info.RemainingSize = decimal.Zero
			info.Status = execution.OrderStatusFilled
		}
		v.mu.Unlock()
		if !ok {
			return
		}

		v.broadcast(wsEvent{Kind: "fill", OrderID: orderID, Price: price, Incremental: qty})
		v.broadcast(wsEvent{Kind: "status", OrderID: orderID, Status: string(execution.OrderStatusFilled), TotalFilled: qty, Price: price})
	}()
}

// Cancel implements execution.VenueClient.
func (v *Venue) Cancel(ctx context.Context, orderID string) (*execution.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	info, ok := v.orders[orderID]
	if !ok {
		return &execution.OrderResult{Success: false, Error: "unknown order"}, nil
	}
	if !info.Status.IsTerminal() {
		info.Status = execution.OrderStatusCanceled
		info.RemainingSize = info.Size.Sub(info.FilledSize)
	}
	return &execution.OrderResult{Success: true, OrderID: orderID}, nil
}

// GetOrderInfo implements execution.VenueClient. When forceRefresh is set,
// it fetches the order over the reference venue's resty-backed REST
// endpoint instead of reading local state directly, exercising the same
// REST-poll fallback path a real adapter would need.
func (v *Venue) GetOrderInfo(ctx context.Context, orderID string, forceRefresh bool) (*execution.OrderInfo, error) {
	if !forceRefresh {
		v.mu.Lock()
		info, ok := v.orders[orderID]
		var cp execution.OrderInfo
		if ok {
			cp = *info
		}
		v.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("unknown order %s", orderID)
		}
		return &cp, nil
	}

	var info execution.OrderInfo
	resp, err := v.restClient.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/orders/" + orderID)
	if err != nil {
		return nil, fmt.Errorf("poll order %s: %w", orderID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("poll order %s: status %d", orderID, resp.StatusCode())
	}

	return &info, nil
}

// GetPositionSnapshot implements execution.VenueClient. The reference venue
// reports no resting position of its own; callers compose exposure from
// fills directly.
func (v *Venue) GetPositionSnapshot(ctx context.Context, symbol string) (*execution.PositionSnapshot, error) {
	return &execution.PositionSnapshot{HasPosition: false}, nil
}

// GetAccountBalance implements execution.VenueClient.
func (v *Venue) GetAccountBalance(ctx context.Context) (decimal.Decimal, bool, error) {
	return v.cfg.Balance, true, nil
}

// GetLeverageInfo implements execution.VenueClient. The reference venue
// reports no constraints (an empty LeverageInfo).
func (v *Venue) GetLeverageInfo(ctx context.Context, symbol string) (*execution.LeverageInfo, error) {
	return &execution.LeverageInfo{}, nil
}

// SetLeverage implements execution.VenueClient as a no-op accept.
func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	return nil
}

// OnOrderFill implements execution.VenueClient.
func (v *Venue) OnOrderFill(cb execution.FillCallback) execution.FillCallback {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.fillCb
	v.fillCb = cb
	return prev
}

// OnOrderStatus implements execution.VenueClient.
func (v *Venue) OnOrderStatus(cb execution.StatusCallback) execution.StatusCallback {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.statusCb
	v.statusCb = cb
	return prev
}
