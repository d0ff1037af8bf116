package execution

import "github.com/shopspring/decimal"

// FilledOrder describes one leg that received fills, for reporting and as
// RollbackManager input.
type FilledOrder struct {
	Venue          VenueClient
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	FillPrice      decimal.Decimal
	OrderID        string
	ReduceOnly     bool
	OriginalTarget decimal.Decimal // spec.Quantity, for the 1.10x sanity check
}

// PartialFillRecord reports a leg that completed with fills short of its
// target.
type PartialFillRecord struct {
	Venue    string
	Symbol   string
	Filled   decimal.Decimal
	Target   decimal.Decimal
}

// BatchResult is the terminal output of execute_atomically.
type BatchResult struct {
	Success                bool
	AllFilled               bool
	FilledOrders             []FilledOrder
	PartialFills             []PartialFillRecord
	TotalSlippageUSD         decimal.Decimal
	ExecutionTimeMS          int64
	ErrorMessage             string
	HasError                 bool
	RollbackPerformed        bool
	RollbackCostUSD          decimal.Decimal
	ResidualImbalanceTokens  decimal.Decimal
}

// trivialSuccess is returned when execute_atomically is called with no
// orders.
func trivialSuccess() *BatchResult {
	return &BatchResult{
		Success:   true,
		AllFilled: true,
	}
}

func failureResult(msg string) *BatchResult {
	return &BatchResult{
		Success:      false,
		ErrorMessage: msg,
		HasError:     true,
	}
}
