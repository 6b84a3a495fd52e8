package riskmodel

import "github.com/taxaware/portfolio-engine/pkg/formulas"

// ComputeResiduals returns, for each stock, actual return minus the
// factor model's fitted return (exposures dot factor returns). The
// residual is the raw material for specific (idiosyncratic) variance.
func ComputeResiduals(returns []float64, exposures [][]float64, factorReturns []float64) []float64 {
	residuals := make([]float64, len(returns))
	for i, r := range returns {
		var fitted float64
		for j, beta := range factorReturns {
			fitted += exposures[i][j] * beta
		}
		residuals[i] = r - fitted
	}
	return residuals
}

// RollingSpecificVariance computes each stock's raw specific variance as
// the sample variance of its trailing residual history. history[i] is
// stock i's residuals over the trailing window, most recent last.
func RollingSpecificVariance(history [][]float64) []float64 {
	out := make([]float64, len(history))
	for i, series := range history {
		if len(series) < 2 {
			out[i] = 0
			continue
		}
		out[i] = formulas.Variance(series)
	}
	return out
}

// ShrinkSpecificVariance blends each stock's raw specific variance toward
// the cross-sectional mean, reducing the impact of a short or noisy
// residual history on any one stock's estimate. intensity in [0, 1].
func ShrinkSpecificVariance(raw []float64, intensity float64) []float64 {
	if len(raw) == 0 {
		return raw
	}
	mean := formulas.Mean(raw)
	shrunk := make([]float64, len(raw))
	for i, v := range raw {
		shrunk[i] = (1-intensity)*v + intensity*mean
	}
	return shrunk
}
