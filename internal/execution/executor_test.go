package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestExecutor(t *testing.T) *AtomicMultiOrderExecutor {
	t.Helper()
	logger := zap.NewNop()
	prices := newTestPriceProvider(t)
	reconciler := NewReconciler(logger)
	placer := NewOrderPlacer(prices, nil, reconciler, logger)
	pricer := NewHedgePricer(prices)
	hedges := NewHedgeManager(pricer, reconciler, decimal.NewFromFloat(0.005), logger)
	imbalance := NewImbalanceAnalyzer()
	exposure := NewExposureVerifier(logger)
	validator := NewPostExecutionValidator(imbalance, exposure, logger)
	rollback := NewRollbackManager(logger)

	return NewAtomicMultiOrderExecutor(&ExecutorConfig{
		Placer:     placer,
		Reconciler: reconciler,
		Hedges:     hedges,
		Imbalance:  imbalance,
		Validator:  validator,
		Rollback:   rollback,
		Logger:     logger,
	})
}

func twoLegSpecs() (*OrderSpec, *OrderSpec) {
	venueA := newMockVenue("venue-a")
	venueB := newMockVenue("venue-b")

	long := &OrderSpec{
		Venue:          venueA,
		Symbol:         "BTC-PERP",
		Side:           SideBuy,
		SizeUSD:        decimal.NewFromInt(1000),
		Quantity:       decimal.NewFromInt(10),
		HasQuantity:    true,
		ExecutionMode:  ModeLimitOnly,
		TimeoutSeconds: 5,
	}
	short := &OrderSpec{
		Venue:          venueB,
		Symbol:         "BTC-PERP",
		Side:           SideSell,
		SizeUSD:        decimal.NewFromInt(1000),
		Quantity:       decimal.NewFromInt(10),
		HasQuantity:    true,
		ExecutionMode:  ModeLimitOnly,
		TimeoutSeconds: 5,
	}
	return long, short
}

func TestExecuteAtomicallyBothLegsFillSucceeds(t *testing.T) {
	executor := newTestExecutor(t)
	long, short := twoLegSpecs()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := executor.ExecuteAtomically(ctx, []*OrderSpec{long, short}, true, false, true)

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.ErrorMessage)
	}
	if !result.AllFilled {
		t.Fatalf("expected AllFilled, got partials=%v", result.PartialFills)
	}
	if result.RollbackPerformed {
		t.Fatalf("did not expect rollback on a clean two-sided fill")
	}
	if len(result.FilledOrders) != 2 {
		t.Fatalf("expected 2 filled orders, got %d", len(result.FilledOrders))
	}
}

func TestExecuteAtomicallyEmptyBatchIsTrivialSuccess(t *testing.T) {
	executor := newTestExecutor(t)

	result := executor.ExecuteAtomically(context.Background(), nil, true, false, true)

	if !result.Success || !result.AllFilled {
		t.Fatalf("expected trivial success for an empty batch, got %+v", result)
	}
}

func TestExecuteAtomicallyRollsBackWhenOneLegCannotFill(t *testing.T) {
	executor := newTestExecutor(t)
	long, short := twoLegSpecs()

	// venue-b rejects every placement, so the short leg never fills and the
	// hedge attempt toward the long leg's exposure fails immediately too,
	// forcing a rollback of the already-filled long leg.
	short.Venue.(*mockVenue).placeErr = errors.New("rejected")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := executor.ExecuteAtomically(ctx, []*OrderSpec{long, short}, true, false, true)

	if result.Success {
		t.Fatalf("expected failure when one leg cannot fill, got success")
	}
	if !result.RollbackPerformed {
		t.Fatalf("expected the long leg's exposure to be rolled back")
	}
}
