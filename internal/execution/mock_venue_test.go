package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// mockVenue is a deterministic, in-memory VenueClient used across this
// package's tests. Orders placed against it fill immediately at the
// configured fill price unless fillOnPlace is disabled, letting tests
// drive fills manually via pushFill/pushStatus to exercise the websocket
// paths.
type mockVenue struct {
	mu sync.Mutex

	name       string
	tick       decimal.Decimal
	step       decimal.Decimal
	multiplier int64
	minNotional decimal.Decimal
	hasMinNotional bool

	bid, ask decimal.Decimal
	book     *OrderBook

	balance    decimal.Decimal
	hasBalance bool
	leverage   *LeverageInfo
	position   *PositionSnapshot

	orders map[string]*OrderInfo
	nextID int

	fillOnPlace bool
	placeErr    error

	fillCb   FillCallback
	statusCb StatusCallback
}

func newMockVenue(name string) *mockVenue {
	return &mockVenue{
		name:        name,
		tick:        decimal.NewFromFloat(0.01),
		step:        decimal.NewFromFloat(0.001),
		multiplier:  1,
		bid:         decimal.NewFromInt(100),
		ask:         decimal.NewFromInt(101),
		balance:     decimal.NewFromInt(100000),
		hasBalance:  true,
		orders:      make(map[string]*OrderInfo),
		fillOnPlace: true,
	}
}

func (m *mockVenue) Name() string { return m.name }

func (m *mockVenue) ResolveContractID(symbol string) (string, error) { return symbol, nil }

func (m *mockVenue) RoundToTick(price decimal.Decimal) decimal.Decimal {
	if m.tick.IsZero() {
		return price
	}
	return price.DivRound(m.tick, 0).Mul(m.tick)
}

func (m *mockVenue) RoundToStep(qty decimal.Decimal) decimal.Decimal {
	if m.step.IsZero() {
		return qty
	}
	return qty.DivRound(m.step, 0).Mul(m.step)
}

func (m *mockVenue) TickSize(symbol string) (decimal.Decimal, bool) { return m.tick, true }

func (m *mockVenue) MinOrderNotional(symbol string) (decimal.Decimal, bool) {
	return m.minNotional, m.hasMinNotional
}

func (m *mockVenue) QuantityMultiplier(symbol string) int64 {
	if m.multiplier == 0 {
		return 1
	}
	return m.multiplier
}

func (m *mockVenue) GetBBO(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bid, m.ask, nil
}

func (m *mockVenue) GetOrderBook(ctx context.Context, symbol string, levels int) (*OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.book != nil {
		return m.book, nil
	}
	return &OrderBook{
		Bids: []PriceLevel{{Price: m.bid, Size: decimal.NewFromInt(1000)}},
		Asks: []PriceLevel{{Price: m.ask, Size: decimal.NewFromInt(1000)}},
	}, nil
}

func (m *mockVenue) PlaceLimit(ctx context.Context, contractID string, qty, price decimal.Decimal, side Side, reduceOnly bool) (*OrderResult, error) {
	return m.place(qty, price, side)
}

func (m *mockVenue) PlaceMarket(ctx context.Context, contractID string, qty decimal.Decimal, side Side, reduceOnly bool) (*OrderResult, error) {
	ref := m.ask
	if side == SideSell {
		ref = m.bid
	}
	return m.place(qty, ref, side)
}

func (m *mockVenue) place(qty, price decimal.Decimal, side Side) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.placeErr != nil {
		return nil, m.placeErr
	}

	m.nextID++
	id := fmt.Sprintf("%s-order-%d", m.name, m.nextID)

	status := OrderStatusOpen
	filled := decimal.Zero
	if m.fillOnPlace {
		status = OrderStatusFilled
		filled = qty
	}

	m.orders[id] = &OrderInfo{
		OrderID:       id,
		Status:        status,
		Size:          qty,
		FilledSize:    filled,
		RemainingSize: qty.Sub(filled),
		Price:         price,
	}

	return &OrderResult{Success: true, OrderID: id}, nil
}

func (m *mockVenue) Cancel(ctx context.Context, orderID string) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.orders[orderID]
	if !ok {
		return &OrderResult{Success: false, Error: "unknown order"}, nil
	}
	if !info.Status.IsTerminal() {
		info.Status = OrderStatusCanceled
		info.RemainingSize = info.Size.Sub(info.FilledSize)
	}
	return &OrderResult{Success: true, OrderID: orderID}, nil
}

func (m *mockVenue) GetOrderInfo(ctx context.Context, orderID string, forceRefresh bool) (*OrderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	cp := *info
	return &cp, nil
}

func (m *mockVenue) GetPositionSnapshot(ctx context.Context, symbol string) (*PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return &PositionSnapshot{HasPosition: false}, nil
	}
	cp := *m.position
	return &cp, nil
}

func (m *mockVenue) GetAccountBalance(ctx context.Context) (decimal.Decimal, bool, error) {
	return m.balance, m.hasBalance, nil
}

func (m *mockVenue) GetLeverageInfo(ctx context.Context, symbol string) (*LeverageInfo, error) {
	if m.leverage != nil {
		return m.leverage, nil
	}
	return &LeverageInfo{}, nil
}

func (m *mockVenue) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	return nil
}

func (m *mockVenue) OnOrderFill(cb FillCallback) FillCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.fillCb
	m.fillCb = cb
	return prev
}

func (m *mockVenue) OnOrderStatus(cb StatusCallback) StatusCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.statusCb
	m.statusCb = cb
	return prev
}

func (m *mockVenue) pushFill(orderID string, price, incremental decimal.Decimal) {
	m.mu.Lock()
	cb := m.fillCb
	m.mu.Unlock()
	if cb != nil {
		cb(orderID, price, incremental, -1)
	}
}

func (m *mockVenue) pushStatus(orderID string, status OrderStatus, totalFilled, price decimal.Decimal) {
	m.mu.Lock()
	cb := m.statusCb
	m.mu.Unlock()
	if cb != nil {
		cb(orderID, status, totalFilled, price)
	}
}

func (m *mockVenue) Close() error { return nil }

var _ VenueClient = (*mockVenue)(nil)
