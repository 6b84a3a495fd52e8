package riskmodel

import "sort"

// ExposureMatrix holds raw, possibly-missing exposures for one month: rows
// are securities, columns are factors. NaN marks a missing observation.
type ExposureMatrix struct {
	SecurityIDs []int64
	FactorNames []string
	Values      [][]float64 // Values[i][j]: security i, factor j
	Imputed     [][]bool
}

func isMissing(v float64) bool {
	return v != v // NaN
}

// Impute fills each missing cell with a three-step fallback ladder: the
// within-industry median of the factor's observed values (grouped by each
// security's Industry label, falling back to Sector when Industry is
// blank), then the global cross-sectional median, then zero if the factor
// has no observed values at all that month. It reports the fraction of
// cells that required imputation.
func Impute(m *ExposureMatrix, labels map[int64]ClassificationLabels) (fractionImputed float64) {
	nFactors := len(m.FactorNames)
	m.Imputed = make([][]bool, len(m.Values))
	for i := range m.Imputed {
		m.Imputed[i] = make([]bool, nFactors)
	}

	var totalCells, imputedCells int

	for j := 0; j < nFactors; j++ {
		var globalObserved []float64
		byIndustry := make(map[string][]float64)
		for i := range m.Values {
			v := m.Values[i][j]
			totalCells++
			if isMissing(v) {
				continue
			}
			globalObserved = append(globalObserved, v)
			industry := industryLabel(m.SecurityIDs[i], labels)
			byIndustry[industry] = append(byIndustry[industry], v)
		}

		globalMedian, hasGlobal := median(globalObserved)
		industryMedian := make(map[string]float64, len(byIndustry))
		for industry, vals := range byIndustry {
			if med, ok := median(vals); ok {
				industryMedian[industry] = med
			}
		}

		for i := range m.Values {
			if !isMissing(m.Values[i][j]) {
				continue
			}
			industry := industryLabel(m.SecurityIDs[i], labels)
			fill, ok := industryMedian[industry]
			if !ok {
				fill, ok = globalMedian, hasGlobal
			}
			if !ok {
				fill = 0
			}
			m.Values[i][j] = fill
			m.Imputed[i][j] = true
			imputedCells++
		}
	}

	if totalCells == 0 {
		return 0
	}
	return float64(imputedCells) / float64(totalCells)
}

func industryLabel(securityID int64, labels map[int64]ClassificationLabels) string {
	l, ok := labels[securityID]
	if !ok || l.Industry == "" {
		return l.Sector
	}
	return l.Industry
}

func median(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}
