package riskmodel

import (
	"math"
	"sort"

	"github.com/taxaware/portfolio-engine/pkg/formulas"
)

// StyleFactorNames is the fixed, ordered list of style factors computed
// every month, ahead of the industry/country one-hot columns classification.go
// appends.
var StyleFactorNames = []string{
	"Size",
	"Beta",
	"Momentum",
	"EarningsYield",
	"BookToPrice",
	"Growth",
	"EarningsVariability",
	"Leverage",
	"DividendYield",
	"CurrencySensitivity",
}

const (
	betaMinObservations       = 36
	currencyMinObservations   = 24
	momentumLookbackMonths    = 12
	momentumMinObservations   = 11
	earningsVariabilityWindow = 8
	earningsVariabilityMinObs = 4
	earningsYieldMinQuarters  = 4
)

// SecurityStyleInputs bundles the raw price, return and fundamental data one
// security needs to compute its style factors for a month.
type SecurityStyleInputs struct {
	MarketCap    float64
	HasMarketCap bool

	// MonthlyReturns holds the security's trailing monthly returns, oldest
	// first, for all months strictly before the exposure month (up to 60
	// months of history, the Beta and CurrencySensitivity lookback window).
	MonthlyReturns []float64

	HasFundamentals bool
	EarningsTTM     float64
	BookValue       float64
	Sales           float64
	PriorSales      float64
	ShortTermDebt   float64
	LongTermDebt    float64
	TotalAssets     float64
	DividendsTTM    float64

	// QuarterlyEarnings holds trailing quarterly earnings, oldest first,
	// for the Earnings Yield and Earnings Variability factors.
	QuarterlyEarnings []float64
}

// StyleInputs is one month's raw inputs across every active security, plus
// the index return series the Beta and CurrencySensitivity factors regress
// against.
type StyleInputs struct {
	BySecurity      map[int64]SecurityStyleInputs
	MarketReturns   []float64 // trailing, oldest first, aligned to each security's own window by length
	CurrencyReturns []float64
}

// ComputeStyleFactors runs the ten style calculators for every security,
// returning a raw (pre-winsorization, pre-standardization) exposure matrix.
// NaN marks a signal that could not be computed from the available data and
// is left for Impute to fill in.
func ComputeStyleFactors(securityIDs []int64, in *StyleInputs) *ExposureMatrix {
	m := &ExposureMatrix{
		SecurityIDs: securityIDs,
		FactorNames: append([]string(nil), StyleFactorNames...),
		Values:      make([][]float64, len(securityIDs)),
	}
	for i, id := range securityIDs {
		row := make([]float64, len(StyleFactorNames))
		sec, ok := in.BySecurity[id]
		if !ok {
			for j := range row {
				row[j] = nan
			}
			m.Values[i] = row
			continue
		}
		row[0] = sizeFactor(sec)
		row[1] = betaFactor(sec, in.MarketReturns)
		row[2] = momentumFactor(sec)
		row[3] = earningsYieldFactor(sec)
		row[4] = bookToPriceFactor(sec)
		row[5] = growthFactor(sec)
		row[6] = earningsVariabilityFactor(sec)
		row[7] = leverageFactor(sec)
		row[8] = dividendYieldFactor(sec)
		row[9] = currencySensitivityFactor(sec, in.CurrencyReturns)
		m.Values[i] = row
	}
	return m
}

func sizeFactor(s SecurityStyleInputs) float64 {
	if !s.HasMarketCap || s.MarketCap <= 0 {
		return nan
	}
	return math.Log(s.MarketCap)
}

func betaFactor(s SecurityStyleInputs, marketReturns []float64) float64 {
	slope, ok := olsSlope(marketReturns, s.MonthlyReturns, betaMinObservations)
	if !ok {
		return nan
	}
	return slope
}

func currencySensitivityFactor(s SecurityStyleInputs, currencyReturns []float64) float64 {
	slope, ok := olsSlope(currencyReturns, s.MonthlyReturns, currencyMinObservations)
	if !ok {
		return nan
	}
	return slope
}

// olsSlope fits y = alpha + slope*x by simple linear regression over the
// common trailing window of x and y, requiring at least minObservations
// paired months. Used for both the market Beta and currency sensitivity
// factors, which are the same regression against two different series.
func olsSlope(x, y []float64, minObservations int) (float64, bool) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < minObservations {
		return 0, false
	}
	x = x[len(x)-n:]
	y = y[len(y)-n:]

	varX := formulas.Variance(x)
	if varX == 0 {
		return 0, false
	}
	return formulas.Covariance(x, y) / varX, true
}

// momentumFactor is 12-1 momentum: the cumulative return over the trailing
// twelve months excluding the most recent month, to sidestep short-term
// reversal. At least 11 of the 12 window months must be present.
func momentumFactor(s SecurityStyleInputs) float64 {
	n := len(s.MonthlyReturns)
	if n < momentumMinObservations+1 {
		return nan
	}
	start := n - momentumLookbackMonths - 1
	if start < 0 {
		start = 0
	}
	window := s.MonthlyReturns[start : n-1]
	cum := 1.0
	for _, r := range window {
		cum *= 1 + r
	}
	return cum - 1
}

func earningsYieldFactor(s SecurityStyleInputs) float64 {
	if !s.HasFundamentals || !s.HasMarketCap || s.MarketCap <= 0 {
		return nan
	}
	if len(s.QuarterlyEarnings) < earningsYieldMinQuarters {
		return nan
	}
	return s.EarningsTTM / s.MarketCap
}

// bookToPriceFactor is log(book value / market cap), log-transformed before
// z-scoring; earnings yield and dividend yield stay plain ratios.
func bookToPriceFactor(s SecurityStyleInputs) float64 {
	if !s.HasFundamentals || !s.HasMarketCap || s.MarketCap <= 0 || s.BookValue <= 0 {
		return nan
	}
	return math.Log(s.BookValue / s.MarketCap)
}

// growthFactor is year-over-year sales growth, most recent annual figure
// against the prior annual figure.
func growthFactor(s SecurityStyleInputs) float64 {
	if !s.HasFundamentals || s.PriorSales == 0 {
		return nan
	}
	return (s.Sales - s.PriorSales) / math.Abs(s.PriorSales)
}

// earningsVariabilityFactor is the negative of the rolling standard
// deviation of quarterly earnings over an 8-quarter window, negated so that
// stable earners score high.
func earningsVariabilityFactor(s SecurityStyleInputs) float64 {
	if len(s.QuarterlyEarnings) < earningsVariabilityMinObs {
		return nan
	}
	window := s.QuarterlyEarnings
	if len(window) > earningsVariabilityWindow {
		window = window[len(window)-earningsVariabilityWindow:]
	}
	return -formulas.StdDev(window)
}

func leverageFactor(s SecurityStyleInputs) float64 {
	if !s.HasFundamentals || s.TotalAssets == 0 {
		return nan
	}
	return (s.ShortTermDebt + s.LongTermDebt) / s.TotalAssets
}

func dividendYieldFactor(s SecurityStyleInputs) float64 {
	if !s.HasFundamentals || !s.HasMarketCap || s.MarketCap <= 0 {
		return nan
	}
	return s.DividendsTTM / s.MarketCap
}

// Winsorize caps each column at its own cross-sectional 1st and 99th
// percentile, ignoring missing (NaN) cells, to keep outlier fundamentals
// and return blowups from dominating the z-score in the next step.
func Winsorize(m *ExposureMatrix, lowerPct, upperPct float64) {
	for j := range m.FactorNames {
		col := observedColumn(m, j)
		if len(col) < 2 {
			continue
		}
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)
		lower := percentile(sorted, lowerPct)
		upper := percentile(sorted, upperPct)
		for i := range m.Values {
			v := m.Values[i][j]
			if isMissing(v) {
				continue
			}
			if v < lower {
				m.Values[i][j] = lower
			} else if v > upper {
				m.Values[i][j] = upper
			}
		}
	}
}

// ZScore standardizes each column to mean 0, standard deviation 1 across
// its observed cross-section. A column with zero variance (or no observed
// cells) is left untouched.
func ZScore(m *ExposureMatrix) {
	for j := range m.FactorNames {
		col := observedColumn(m, j)
		if len(col) == 0 {
			continue
		}
		mean := formulas.Mean(col)
		std := formulas.StdDev(col)
		if std == 0 {
			continue
		}
		for i := range m.Values {
			if isMissing(m.Values[i][j]) {
				continue
			}
			m.Values[i][j] = (m.Values[i][j] - mean) / std
		}
	}
}

func observedColumn(m *ExposureMatrix, j int) []float64 {
	var out []float64
	for i := range m.Values {
		v := m.Values[i][j]
		if !isMissing(v) {
			out = append(out, v)
		}
	}
	return out
}

// percentile returns the value at the given percentile (0-100) of an
// already-sorted slice, linearly interpolated between the closest ranks.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
