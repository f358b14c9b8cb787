package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deltayield/internal/config"
	"deltayield/internal/logger"
)

var (
	configPath string
	envFiles   []string
)

// rootCmd is the base command for the dnyield CLI
var rootCmd = &cobra.Command{
	Use:   "dnyield",
	Short: "Delta-neutral yield strategy backtester",
	Long: `dnyield backtests delta-neutral yield strategies (basis trade, funding rate
arbitrage, hedged staking, hedged LP, multi-protocol) over historical or
synthetic market data, forecasts funding rates, and serves both over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Environment files to load before the configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads env files and the configuration, then initializes the global
// logger. quiet keeps stdout clean for commands that print results there.
func loadConfig(quiet bool) (*config.Config, error) {
	if len(envFiles) > 0 {
		if err := config.LoadEnvFiles(envFiles...); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return nil, err
	}

	if quiet && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger.Init(cfg.Logging)
	return cfg, nil
}
