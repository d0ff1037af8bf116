package execution

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderStatus mirrors the terminal/non-terminal states a venue reports for
// an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether status is a terminal state that will never
// transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderInfo is the venue's authoritative view of one order.
type OrderInfo struct {
	OrderID       string
	Status        OrderStatus
	Size          decimal.Decimal
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	Price         decimal.Decimal
	CancelReason  string
}

// OrderResult is the outcome of a placement or cancel call.
type OrderResult struct {
	Success bool
	OrderID string
	Error   string
}

// PositionSnapshot is a venue's reported open position for a symbol.
type PositionSnapshot struct {
	Quantity    decimal.Decimal // signed: positive = long, negative = short
	EntryPrice  decimal.Decimal
	ExposureUSD decimal.Decimal
	Side        Side
	HasPosition bool
}

// LeverageInfo is a venue's reported leverage/margin constraints for a symbol.
type LeverageInfo struct {
	MaxLeverage       decimal.Decimal
	HasMaxLeverage    bool
	MaxNotional       decimal.Decimal
	HasMaxNotional    bool
	MarginRequirement decimal.Decimal
	HasMargin         bool
}

// PriceLevel is one (price, size) entry in an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a depth snapshot for one symbol.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// FillCallback is invoked by a venue adapter when an incremental fill is
// observed for order_id. seq, when non-negative, is a venue-provided
// monotonic sequence number used only for logging/ordering diagnostics.
type FillCallback func(orderID string, price decimal.Decimal, incrementalFilled decimal.Decimal, seq int64)

// StatusCallback is invoked by a venue adapter on an order status
// transition, most importantly CANCELED and FILLED.
type StatusCallback func(orderID string, status OrderStatus, totalFilled decimal.Decimal, price decimal.Decimal)

// VenueClient is the abstract capability set the core consumes.
// Per-venue REST/WebSocket adapters implementing this interface are an
// out-of-scope external collaborator; the core depends only on this
// interface.
type VenueClient interface {
	Name() string

	ResolveContractID(symbol string) (string, error)

	RoundToTick(price decimal.Decimal) decimal.Decimal
	RoundToStep(qty decimal.Decimal) decimal.Decimal

	TickSize(symbol string) (decimal.Decimal, bool)
	MinOrderNotional(symbol string) (decimal.Decimal, bool)

	// QuantityMultiplier is the integer factor converting this venue's base
	// unit to actual tokens. Defaults to 1 when a venue has no multiplier.
	QuantityMultiplier(symbol string) int64

	GetBBO(ctx context.Context, symbol string) (bid, ask decimal.Decimal, err error)
	GetOrderBook(ctx context.Context, symbol string, levels int) (*OrderBook, error)

	PlaceLimit(ctx context.Context, contractID string, qty, price decimal.Decimal, side Side, reduceOnly bool) (*OrderResult, error)
	PlaceMarket(ctx context.Context, contractID string, qty decimal.Decimal, side Side, reduceOnly bool) (*OrderResult, error)
	Cancel(ctx context.Context, orderID string) (*OrderResult, error)

	GetOrderInfo(ctx context.Context, orderID string, forceRefresh bool) (*OrderInfo, error)
	GetPositionSnapshot(ctx context.Context, symbol string) (*PositionSnapshot, error)

	GetAccountBalance(ctx context.Context) (decimal.Decimal, bool, error)
	GetLeverageInfo(ctx context.Context, symbol string) (*LeverageInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error

	// OnOrderFill/OnOrderStatus install the venue's fill/status hooks and
	// return the previously installed hooks (possibly nil), so a caller can
	// restore them on exit. Only one hook of each kind is installed at a
	// time per venue; the WebsocketRouter is the sole caller during a batch.
	OnOrderFill(cb FillCallback) (previous FillCallback)
	OnOrderStatus(cb StatusCallback) (previous StatusCallback)

	// Close releases any sockets/connection pools held by the adapter. The
	// executor never calls this; lifecycle belongs to whatever constructed
	// the VenueClient.
	Close() error
}
