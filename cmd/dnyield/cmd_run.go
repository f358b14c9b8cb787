package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apperrors "deltayield/internal/errors"
	"deltayield/internal/strategy"
	"deltayield/internal/strategy/backtest"
)

const dateLayout = "2006-01-02"

var (
	runStrategyFile string
	runStart        string
	runEnd          string
	runAI           bool
	runSeed         int64
	runJSON         bool
)

// runCmd implements 'dnyield run'
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest a strategy over a date range",
	Long: `Backtest a strategy file over [start, end], both dates inclusive (UTC).

Examples:
  dnyield run --strategy configs/strategies/sol-funding.yaml --start 2024-01-01 --end 2024-03-31
  dnyield run --strategy sol-basis.yaml --start 2024-01-01 --end 2024-06-30 --ai --seed 7
  dnyield run --strategy sol-basis.yaml --start 2024-01-01 --end 2024-06-30 --json`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runStrategyFile, "strategy", "", "Strategy file (YAML or JSON)")
	runCmd.Flags().StringVar(&runStart, "start", "", "Start date, YYYY-MM-DD")
	runCmd.Flags().StringVar(&runEnd, "end", "", "End date, YYYY-MM-DD")
	runCmd.Flags().BoolVar(&runAI, "ai", false, "Blend funding rate predictions into the simulated returns")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Override the configured random seed")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full result as JSON")
	_ = runCmd.MarkFlagRequired("strategy")
	_ = runCmd.MarkFlagRequired("start")
	_ = runCmd.MarkFlagRequired("end")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	start, err := parseDate("start", runStart)
	if err != nil {
		return err
	}
	end, err := parseDate("end", runEnd)
	if err != nil {
		return err
	}

	strat, err := strategy.LoadFile(runStrategyFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	var opts []backtest.RunOption
	if runAI {
		opts = append(opts, backtest.WithAIEnhancement())
	}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, backtest.WithSeed(runSeed))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := a.engine.Run(ctx, strat, start, end, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runJSON {
		return writeJSON(out, result)
	}
	return writeSummary(out, strat, result)
}

func parseDate(flag, value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.Validation(flag, fmt.Sprintf("expected YYYY-MM-DD, got %q", value))
	}
	return t, nil
}
