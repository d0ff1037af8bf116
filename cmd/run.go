package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/atomic-exec/internal/execution"
	"github.com/mselser95/atomic-exec/internal/simvenue"
	pkgconfig "github.com/mselser95/atomic-exec/pkg/config"
	"github.com/mselser95/atomic-exec/pkg/healthprobe"
	"github.com/mselser95/atomic-exec/pkg/httpserver"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one demo batch against the reference simvenue venues",
	Long: `Starts the health/metrics HTTP server, builds an
AtomicMultiOrderExecutor wired against two internal/simvenue reference
venues, executes one demo two-leg batch, and prints the result.

This has no strategy layer and no real venue adapters: it exists to
exercise the engine end to end the way a caller (an arbitrage or
market-making strategy) would, without requiring live exchange
credentials.`,
	RunE: runDemo,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := pkgconfig.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := pkgconfig.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	health := healthprobe.New()
	server := httpserver.New(&httpserver.Config{Port: cfg.HTTPPort, Logger: logger, HealthChecker: health})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http-server-failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	venueA, err := simvenue.New(simvenue.Config{Name: "venue-a", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1), Balance: decimal.NewFromInt(1000000), Logger: logger})
	if err != nil {
		return fmt.Errorf("start venue-a: %w", err)
	}
	defer venueA.Close()

	venueB, err := simvenue.New(simvenue.Config{Name: "venue-b", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1), Balance: decimal.NewFromInt(1000000), Logger: logger})
	if err != nil {
		return fmt.Errorf("start venue-b: %w", err)
	}
	defer venueB.Close()

	executor, err := buildExecutor(cfg, logger)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	health.SetReady(true)

	orders := []*execution.OrderSpec{
		{Venue: venueA, Symbol: "BTC-PERP", Side: execution.SideBuy, SizeUSD: decimal.NewFromInt(1000), Quantity: decimal.NewFromInt(10), HasQuantity: true, ExecutionMode: execution.ModeLimitOnly, TimeoutSeconds: 5},
		{Venue: venueB, Symbol: "BTC-PERP", Side: execution.SideSell, SizeUSD: decimal.NewFromInt(1000), Quantity: decimal.NewFromInt(10), HasQuantity: true, ExecutionMode: execution.ModeLimitOnly, TimeoutSeconds: 5},
	}

	result := executor.ExecuteAtomically(ctx, orders, true, false, true)

	logger.Info("demo-batch-complete",
		zap.Bool("success", result.Success),
		zap.Bool("all-filled", result.AllFilled),
		zap.Bool("rollback-performed", result.RollbackPerformed),
		zap.Int("filled-legs", len(result.FilledOrders)))

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildExecutor(cfg *pkgconfig.Config, logger *zap.Logger) (*execution.AtomicMultiOrderExecutor, error) {
	prices, err := execution.NewPriceProvider(&execution.PriceProviderConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("create price provider: %w", err)
	}

	reconciler := execution.NewReconciler(logger)
	placer := execution.NewOrderPlacer(prices, nil, reconciler, logger)
	pricer := execution.NewHedgePricer(prices)
	hedges := execution.NewHedgeManager(pricer, reconciler, decimal.NewFromFloat(cfg.HedgeMaxDeviationPct), logger)
	imbalance := execution.NewImbalanceAnalyzer()
	exposure := execution.NewExposureVerifier(logger)
	validator := execution.NewPostExecutionValidator(imbalance, exposure, logger)
	rollback := execution.NewRollbackManager(logger)

	leverage := execution.NewLeverageValidator(decimal.NewFromInt(10))
	liquidity := execution.NewLiquidityAnalyzer(&execution.LiquidityAnalyzerConfig{Prices: prices})
	preflight := execution.NewPreFlightChecker(&execution.PreFlightCheckerConfig{Leverage: leverage, Liquidity: liquidity, Logger: logger})

	return execution.NewAtomicMultiOrderExecutor(&execution.ExecutorConfig{
		PreFlight:  preflight,
		Placer:     placer,
		Reconciler: reconciler,
		Hedges:     hedges,
		Imbalance:  imbalance,
		Validator:  validator,
		Rollback:   rollback,
		Logger:     logger,
	}), nil
}
