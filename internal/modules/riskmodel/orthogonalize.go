package riskmodel

import "gonum.org/v1/gonum/stat"

// Orthogonalize residualizes every style factor other than Size against
// Size, so that, e.g., a Value signal does not simply restate small-cap
// tilt. Runs after imputation: an imputed Size column is a valid
// regressor, an un-imputed (NaN) one is not. styleFactorCount bounds the
// loop to the style columns at the front of the matrix — the industry and
// country one-hot columns appended after them are indicator variables, not
// style signals, and must not be residualized against Size.
func Orthogonalize(m *ExposureMatrix, sizeFactor string, styleFactorCount int) {
	sizeCol := -1
	for j := 0; j < styleFactorCount && j < len(m.FactorNames); j++ {
		if m.FactorNames[j] == sizeFactor {
			sizeCol = j
			break
		}
	}
	if sizeCol < 0 {
		return
	}

	n := len(m.Values)
	size := make([]float64, n)
	for i := range m.Values {
		size[i] = m.Values[i][sizeCol]
	}
	sizeMean := stat.Mean(size, nil)
	sizeVar := stat.Variance(size, nil)
	if sizeVar == 0 {
		return
	}

	for j := 0; j < styleFactorCount && j < len(m.FactorNames); j++ {
		if j == sizeCol {
			continue
		}
		col := make([]float64, n)
		for i := range m.Values {
			col[i] = m.Values[i][j]
		}
		colMean := stat.Mean(col, nil)
		cov := stat.Covariance(col, size, nil)
		beta := cov / sizeVar
		alpha := colMean - beta*sizeMean

		for i := range m.Values {
			fitted := alpha + beta*size[i]
			m.Values[i][j] = col[i] - fitted
		}
	}
}
