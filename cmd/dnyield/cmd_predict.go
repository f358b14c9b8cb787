package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deltayield/internal/market/funding"
	"deltayield/internal/predictor"
)

// fundingInterval spaces the --history rates like settled funding events
const fundingInterval = 8 * time.Hour

var (
	predictAsset      string
	predictExchange   string
	predictRate       float64
	predictHistory    []float64
	predictPrice      float64
	predictVolatility float64
	predictVolume     float64
)

// predictCmd implements 'dnyield predict'
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Forecast the next 24 funding rates of an asset",
	Long: `Forecast funding rates from the current rate and an optional history of
previous settlements, oldest first.

Examples:
  dnyield predict --asset SOL --rate 0.0003
  dnyield predict --asset ETH --rate 0.0001 --history 0.00008,0.00012,0.0001`,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVar(&predictAsset, "asset", "", "Asset symbol, e.g. SOL")
	predictCmd.Flags().StringVar(&predictExchange, "exchange", "binance", "Exchange the rates come from")
	predictCmd.Flags().Float64Var(&predictRate, "rate", 0, "Current funding rate per 8h settlement")
	predictCmd.Flags().Float64SliceVar(&predictHistory, "history", nil, "Previous funding rates, oldest first")
	predictCmd.Flags().Float64Var(&predictPrice, "price", 0, "Current price")
	predictCmd.Flags().Float64Var(&predictVolatility, "volatility", 0, "Current price volatility")
	predictCmd.Flags().Float64Var(&predictVolume, "volume", 0, "Current traded volume")
	_ = predictCmd.MarkFlagRequired("asset")
	_ = predictCmd.MarkFlagRequired("rate")
}

func runPredict(cmd *cobra.Command, args []string) error {
	asset := strings.ToUpper(strings.TrimSpace(predictAsset))
	if asset == "" {
		return fmt.Errorf("--asset must not be empty")
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	p := a.newPredictor()
	now := time.Now().UTC()
	for i, r := range predictHistory {
		p.Observe(funding.Rate{
			Asset:     asset,
			Exchange:  predictExchange,
			Rate:      r,
			Timestamp: now.Add(-time.Duration(len(predictHistory)-i) * fundingInterval),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Predictor.External.Timeout+5*time.Second)
	defer cancel()

	preds, err := p.Predict(ctx,
		[]predictor.Snapshot{{Asset: asset, Exchange: predictExchange, Rate: predictRate, Timestamp: now}},
		[]predictor.Features{{Asset: asset, Price: predictPrice, Volatility: predictVolatility, Volume: predictVolume}},
	)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), preds)
}
