package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "atomic-exec",
	Short: "Atomic multi-leg order execution engine",
	Long: `atomic-exec drives batches of correlated orders across multiple
perpetual-swap venues to one of two terminal outcomes: fully balanced
fills within tolerance, or no net exposure, with any residual position
forcibly closed.

This binary is a demo/ops harness around the engine: it has no strategy
layer of its own and expects a caller (or the "run" demo command, backed
by internal/simvenue) to supply order specs.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: .env file not found")
	}
}
