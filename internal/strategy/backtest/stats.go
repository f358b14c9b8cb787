package backtest

import (
	"math"
	"time"

	"deltayield/internal/strategy/simulator"
)

// StatsManager owns the accumulators of one run
type StatsManager struct {
	initial  float64
	value    float64
	peak     float64
	minRatio float64
	returns  []float64
	series   []PeriodReturn
	months   []string
	monthly  map[string]float64 // month -> product of (1+r)
	funding  fundingTally
	exposure exposureTally
}

type fundingTally struct {
	rateSum     float64
	rateCount   int
	collected   float64
	switches    int
	longDays    int
	shortDays   int
	neutralDays int
}

type exposureTally struct {
	netSum   float64
	netMax   float64
	hedgeSum float64
	count    int
}

// NewStatsManager creates accumulators starting at the initial value
func NewStatsManager(initial float64) *StatsManager {
	return &StatsManager{
		initial:  initial,
		value:    initial,
		peak:     initial,
		minRatio: 1,
		monthly:  make(map[string]float64),
	}
}

// Value returns the current portfolio value
func (m *StatsManager) Value() float64 {
	return m.value
}

// Update applies one period return and records the side channel
func (m *StatsManager) Update(timestamp time.Time, r float64, out simulator.Output) {
	before := m.value
	m.value = before * (1 + r)

	m.returns = append(m.returns, r)
	m.series = append(m.series, PeriodReturn{Date: timestamp, Value: m.value, Return: r})

	// 回撤
	if m.value > m.peak {
		m.peak = m.value
	}
	if m.peak > 0 {
		if ratio := m.value / m.peak; ratio < m.minRatio {
			m.minRatio = ratio
		}
	}

	month := timestamp.UTC().Format("2006-01")
	if _, ok := m.monthly[month]; !ok {
		m.months = append(m.months, month)
		m.monthly[month] = 1
	}
	m.monthly[month] *= 1 + r

	// 资金费率统计, gaps are not days
	if out.HasFunding {
		m.funding.rateSum += out.FundingRate
		m.funding.rateCount++
		m.funding.collected += out.FundingCollected * before
		switch out.Stance {
		case simulator.StanceLong:
			m.funding.longDays++
		case simulator.StanceShort:
			m.funding.shortDays++
		default:
			m.funding.neutralDays++
		}
	}
	if out.Switched {
		m.funding.switches++
	}

	m.exposure.netSum += out.NetExposure
	m.exposure.hedgeSum += out.HedgeRatio
	if out.NetExposure > m.exposure.netMax {
		m.exposure.netMax = out.NetExposure
	}
	m.exposure.count++
}

// Series returns the value series recorded so far
func (m *StatsManager) Series() []PeriodReturn {
	return m.series
}

// Returns returns the period returns recorded so far
func (m *StatsManager) Returns() []float64 {
	return m.returns
}

// MaxDrawdown is 1 - min(value / peak so far)
func (m *StatsManager) MaxDrawdown() float64 {
	return clamp01(1 - m.minRatio)
}

// MonthlyReturns compounds period returns per calendar month in order of appearance
func (m *StatsManager) MonthlyReturns() []MonthlyReturn {
	out := make([]MonthlyReturn, 0, len(m.months))
	for _, month := range m.months {
		out = append(out, MonthlyReturn{Month: month, Return: m.monthly[month] - 1})
	}
	return out
}

// FundingMetrics reports the funding counters
func (m *StatsManager) FundingMetrics() *FundingMetrics {
	fm := &FundingMetrics{
		TotalCollected:   m.funding.collected,
		PositionSwitches: m.funding.switches,
		LongDays:         m.funding.longDays,
		ShortDays:        m.funding.shortDays,
		NeutralDays:      m.funding.neutralDays,
		LongShortRatio:   float64(m.funding.longDays) / math.Max(float64(m.funding.shortDays), 1),
	}
	if m.funding.rateCount > 0 {
		fm.AverageRate = m.funding.rateSum / float64(m.funding.rateCount)
	}
	return fm
}

// Exposure reports exposure statistics
func (m *StatsManager) Exposure() ExposureStats {
	if m.exposure.count == 0 {
		return ExposureStats{}
	}
	n := float64(m.exposure.count)
	return ExposureStats{
		AvgNetExposure: m.exposure.netSum / n,
		MaxNetExposure: m.exposure.netMax,
		AvgHedgeRatio:  m.exposure.hedgeSum / n,
	}
}

// Metrics are the derived performance figures of a run
type Metrics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	SortinoRatio     float64
	CalmarRatio      float64
	MaxDrawdown      float64
	WinRate          float64
}

// Calculate derives every metric. totalDays is the elapsed calendar span of the run.
func (m *StatsManager) Calculate(totalDays float64, periodsPerYear, riskFreeRate float64) Metrics {
	res := Metrics{
		TotalReturn: TotalReturn(m.initial, m.value),
		MaxDrawdown: m.MaxDrawdown(),
		WinRate:     WinRate(m.returns),
	}
	res.AnnualizedReturn = AnnualizedReturn(res.TotalReturn, totalDays)
	res.Volatility = AnnualizedVolatility(m.returns, periodsPerYear)
	res.SharpeRatio = SharpeRatio(res.AnnualizedReturn, riskFreeRate, res.Volatility)
	res.SortinoRatio = SortinoRatio(m.returns, res.AnnualizedReturn, riskFreeRate, periodsPerYear, res.SharpeRatio)
	res.CalmarRatio = CalmarRatio(res.AnnualizedReturn, res.MaxDrawdown, res.SharpeRatio)
	return res
}

// TotalReturn is final/initial - 1
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return finite(final/initial-1, 0)
}

// AnnualizedReturn compounds the total return to a 365 day year
func AnnualizedReturn(totalReturn, totalDays float64) float64 {
	if totalDays <= 0 {
		return 0
	}
	if totalReturn <= -1 {
		return -1
	}
	return finite(math.Pow(1+totalReturn, 365/totalDays)-1, 0)
}

// AnnualizedVolatility is the sample standard deviation scaled by sqrt(periodsPerYear)
func AnnualizedVolatility(returns []float64, periodsPerYear float64) float64 {
	return finite(stdDev(returns)*math.Sqrt(periodsPerYear), 0)
}

// SharpeRatio returns 0 when volatility is 0
func SharpeRatio(annualizedReturn, riskFreeRate, volatility float64) float64 {
	if volatility == 0 {
		return 0
	}
	return finite((annualizedReturn-riskFreeRate)/volatility, 0)
}

// SortinoRatio uses the population deviation of negative returns. It falls back to
// sharpe whenever that deviation is zero: no negative returns, or a single one.
func SortinoRatio(returns []float64, annualizedReturn, riskFreeRate, periodsPerYear, sharpe float64) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return sharpe
	}
	downside := populationStdDev(negatives) * math.Sqrt(periodsPerYear)
	if downside == 0 {
		return sharpe
	}
	return finite((annualizedReturn-riskFreeRate)/downside, sharpe)
}

// CalmarRatio falls back to sharpe when there was no drawdown
func CalmarRatio(annualizedReturn, maxDrawdown, sharpe float64) float64 {
	if maxDrawdown == 0 {
		return sharpe
	}
	return finite(annualizedReturn/maxDrawdown, sharpe)
}

// WinRate is the fraction of strictly positive returns
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation, 0 below two values
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mu := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - mu) * (v - mu)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mu := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - mu) * (v - mu)
	}
	return math.Sqrt(ss / float64(len(values)))
}

func finite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
