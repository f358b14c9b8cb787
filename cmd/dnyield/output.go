package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"deltayield/internal/strategy"
	"deltayield/internal/strategy/backtest"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeSummary prints the headline numbers of a backtest as an aligned table
func writeSummary(w io.Writer, strat *strategy.Config, res *backtest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	name := strat.Name
	if name == "" {
		name = strat.ID
	}
	initial := decimal.NewFromFloat(res.InitialValue)
	final := decimal.NewFromFloat(res.FinalValue)

	fmt.Fprintf(tw, "Strategy\t%s (%s)\n", name, res.Kind)
	fmt.Fprintf(tw, "Window\t%s .. %s (%s periods)\n",
		res.StartDate.Format(dateLayout), res.EndDate.Format(dateLayout), res.Period)
	fmt.Fprintf(tw, "Rebalance interval\t%s\n", strat.RebalanceInterval())
	fmt.Fprintf(tw, "Data sources\t%s\n", formatSources(res))
	fmt.Fprintf(tw, "Initial capital\t%s\n", formatUSD(initial))
	fmt.Fprintf(tw, "Final value\t%s\n", formatUSD(final))
	fmt.Fprintf(tw, "Profit\t%s\n", formatUSD(final.Sub(initial)))
	fmt.Fprintf(tw, "Total return\t%s\n", formatPercent(res.TotalReturn))
	fmt.Fprintf(tw, "Annualized return\t%s\n", formatPercent(res.AnnualizedReturn))
	fmt.Fprintf(tw, "Volatility\t%s\n", formatPercent(res.Volatility))
	fmt.Fprintf(tw, "Sharpe / Sortino / Calmar\t%.2f / %.2f / %.2f\n", res.SharpeRatio, res.SortinoRatio, res.CalmarRatio)
	fmt.Fprintf(tw, "Max drawdown\t%s\n", formatPercent(res.MaxDrawdown))
	fmt.Fprintf(tw, "Win rate\t%s\n", formatPercent(res.WinRate))

	if f := res.Funding; f != nil {
		fmt.Fprintf(tw, "Avg funding rate\t%.4f%%\n", f.AverageRate*100)
		fmt.Fprintf(tw, "Funding collected\t%s\n", formatPercent(f.TotalCollected))
		fmt.Fprintf(tw, "Position switches\t%d\n", f.PositionSwitches)
		fmt.Fprintf(tw, "Long / short / neutral days\t%d / %d / %d\n", f.LongDays, f.ShortDays, f.NeutralDays)
	}
	if ai := res.AI; ai != nil {
		fmt.Fprintf(tw, "AI predictions\t%d (accuracy %s over %d)\n", ai.Predictions, formatPercent(ai.PredictionAccuracy), ai.Evaluated)
	}
	fmt.Fprintf(tw, "Run\t%s (seed %d, %dms)\n", res.RunID, res.Seed, res.ElapsedMs)

	return tw.Flush()
}

// formatUSD renders an amount with thousands separators and two decimals
func formatUSD(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.StringFixed(2)
	whole, frac := s[:len(s)-3], s[len(s)-3:]

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + "$" + b.String() + frac
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func formatSources(res *backtest.Result) string {
	assets := make([]string, 0, len(res.DataSources))
	for asset := range res.DataSources {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	parts := make([]string, 0, len(assets))
	for _, asset := range assets {
		parts = append(parts, fmt.Sprintf("%s=%s", asset, res.DataSources[asset]))
	}
	return strings.Join(parts, ", ")
}
