package riskmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taxaware/portfolio-engine/pkg/formulas"
)

func TestSizeFactor_IsLogMarketCap(t *testing.T) {
	v := sizeFactor(SecurityStyleInputs{HasMarketCap: true, MarketCap: math.Exp(10)})
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestSizeFactor_MissingMarketCapIsNaN(t *testing.T) {
	assert.True(t, isMissing(sizeFactor(SecurityStyleInputs{})))
}

func TestBetaFactor_RequiresMinimumObservations(t *testing.T) {
	returns := make([]float64, betaMinObservations-1)
	market := make([]float64, betaMinObservations-1)
	for i := range returns {
		returns[i] = float64(i) * 0.01
		market[i] = float64(i) * 0.01
	}
	v := betaFactor(SecurityStyleInputs{MonthlyReturns: returns}, market)
	assert.True(t, isMissing(v))
}

func TestBetaFactor_RecoversKnownSlope(t *testing.T) {
	n := betaMinObservations
	market := make([]float64, n)
	stock := make([]float64, n)
	for i := 0; i < n; i++ {
		market[i] = float64(i%5) * 0.01
		stock[i] = 1.5 * market[i] // true beta of 1.5, noiseless
	}
	v := betaFactor(SecurityStyleInputs{MonthlyReturns: stock}, market)
	assert.InDelta(t, 1.5, v, 1e-9)
}

func TestMomentumFactor_ExcludesMostRecentMonth(t *testing.T) {
	// 13 trailing months: a 5% gain in month t-12..t-1, then a crash in the
	// most recent month that 12-1 momentum must ignore.
	returns := make([]float64, 13)
	monthlyGrowth := math.Pow(1.05, 1.0/12) - 1
	for i := 0; i < 12; i++ {
		returns[i] = monthlyGrowth
	}
	returns[12] = -0.5 // most recent month, excluded

	v := momentumFactor(SecurityStyleInputs{MonthlyReturns: returns})
	assert.InDelta(t, 0.05, v, 1e-6)
}

func TestMomentumFactor_InsufficientHistoryIsNaN(t *testing.T) {
	v := momentumFactor(SecurityStyleInputs{MonthlyReturns: make([]float64, 5)})
	assert.True(t, isMissing(v))
}

func TestGrowthFactor_ZeroPriorSalesIsNaN(t *testing.T) {
	v := growthFactor(SecurityStyleInputs{HasFundamentals: true, PriorSales: 0, Sales: 1})
	assert.True(t, isMissing(v))
}

func TestGrowthFactor_ComputesPercentChange(t *testing.T) {
	v := growthFactor(SecurityStyleInputs{HasFundamentals: true, PriorSales: 2, Sales: 3})
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestLeverageFactor_DebtToAssets(t *testing.T) {
	v := leverageFactor(SecurityStyleInputs{HasFundamentals: true, ShortTermDebt: 30, LongTermDebt: 50, TotalAssets: 40})
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestEarningsVariabilityFactor_NegatedAndWindowed(t *testing.T) {
	// 9 quarters of earnings; the most distant one must be dropped from the
	// 8-quarter window, and the result must be negative of the std dev.
	quarters := []float64{1000, 1, 2, 3, 4, 3, 2, 1, 2}
	v := earningsVariabilityFactor(SecurityStyleInputs{QuarterlyEarnings: quarters})
	assert.Less(t, v, 0.0)
	windowed := quarters[len(quarters)-earningsVariabilityWindow:]
	assert.InDelta(t, -formulas.StdDev(windowed), v, 1e-9)
}

func TestEarningsVariabilityFactor_InsufficientHistoryIsNaN(t *testing.T) {
	v := earningsVariabilityFactor(SecurityStyleInputs{QuarterlyEarnings: []float64{1, 2, 3}})
	assert.True(t, isMissing(v))
}

func TestBookToPriceFactor_IsLogTransformed(t *testing.T) {
	v := bookToPriceFactor(SecurityStyleInputs{HasFundamentals: true, HasMarketCap: true, BookValue: 50, MarketCap: 100})
	assert.InDelta(t, math.Log(0.5), v, 1e-9)
}

func TestEarningsYieldFactor_RequiresFourQuarters(t *testing.T) {
	v := earningsYieldFactor(SecurityStyleInputs{
		HasFundamentals:   true,
		HasMarketCap:      true,
		MarketCap:         100,
		EarningsTTM:       10,
		QuarterlyEarnings: []float64{1, 2, 3},
	})
	assert.True(t, isMissing(v))
}

func TestWinsorize_CapsExtremeValuesAtPercentiles(t *testing.T) {
	m := &ExposureMatrix{
		SecurityIDs: []int64{1, 2, 3, 4, 5},
		FactorNames: []string{"Size"},
		Values: [][]float64{
			{-1000},
			{1},
			{2},
			{3},
			{1000},
		},
	}
	Winsorize(m, 1, 99)
	assert.Less(t, m.Values[0][0], 1.0)
	assert.Greater(t, m.Values[0][0], -1000.0)
	assert.Greater(t, m.Values[4][0], 3.0)
	assert.Less(t, m.Values[4][0], 1000.0)
	assert.InDelta(t, 2.0, m.Values[2][0], 1e-9) // untouched interior value
}

func TestZScore_ProducesMeanZeroStdOne(t *testing.T) {
	m := &ExposureMatrix{
		SecurityIDs: []int64{1, 2, 3, 4},
		FactorNames: []string{"Size"},
		Values: [][]float64{
			{1}, {2}, {3}, {4},
		},
	}
	ZScore(m)

	col := make([]float64, len(m.Values))
	for i, row := range m.Values {
		col[i] = row[0]
	}
	assert.InDelta(t, 0.0, formulas.Mean(col), 1e-9)
	assert.InDelta(t, 1.0, formulas.StdDev(col), 1e-9)
}

func TestZScore_IgnoresMissingCells(t *testing.T) {
	nanVal := nan
	m := &ExposureMatrix{
		SecurityIDs: []int64{1, 2, 3},
		FactorNames: []string{"Size"},
		Values: [][]float64{
			{1}, {nanVal}, {3},
		},
	}
	ZScore(m)
	assert.True(t, isMissing(m.Values[1][0]))
	assert.False(t, isMissing(m.Values[0][0]))
}
