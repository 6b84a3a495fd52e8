package riskmodel

import "sort"

// ClassificationLabels is one security's sector/industry/sub-industry/
// country labels, the inputs to the one-hot columns appended after the
// style factors.
type ClassificationLabels struct {
	Sector      string
	Industry    string
	SubIndustry string
	Country     string
}

func sectorFactorName(s string) string {
	if s == "" {
		return ""
	}
	return "Sector:" + s
}

func industryFactorName(s string) string {
	if s == "" {
		return ""
	}
	return "Industry:" + s
}

func subIndustryFactorName(s string) string {
	if s == "" {
		return ""
	}
	return "SubIndustry:" + s
}

func countryFactorName(s string) string {
	if s == "" {
		return ""
	}
	return "Country:" + s
}

// ClassificationFactorNames returns the de-duplicated, sorted set of one-hot
// column names implied by a set of securities' labels: one column per
// distinct sector, industry and sub-industry value (returned together,
// since all three are industry-kind exposures), and one per distinct
// country.
func ClassificationFactorNames(labels map[int64]ClassificationLabels) (industryNames, countryNames []string) {
	industrySeen := make(map[string]bool)
	countrySeen := make(map[string]bool)
	for _, l := range labels {
		for _, name := range []string{sectorFactorName(l.Sector), industryFactorName(l.Industry), subIndustryFactorName(l.SubIndustry)} {
			if name != "" && !industrySeen[name] {
				industrySeen[name] = true
				industryNames = append(industryNames, name)
			}
		}
		if name := countryFactorName(l.Country); name != "" && !countrySeen[name] {
			countrySeen[name] = true
			countryNames = append(countryNames, name)
		}
	}
	sort.Strings(industryNames)
	sort.Strings(countryNames)
	return industryNames, countryNames
}

// BuildClassificationExposures appends one-hot industry and country columns
// to m. Each security's sector, industry and sub-industry columns sum to 3
// (one 1 per level); its country columns sum to 1. A security with no
// recorded label gets all zeros for the levels it is missing, rather than
// failing the whole build.
func BuildClassificationExposures(m *ExposureMatrix, securityIDs []int64, labels map[int64]ClassificationLabels, industryNames, countryNames []string) {
	m.FactorNames = append(m.FactorNames, industryNames...)
	m.FactorNames = append(m.FactorNames, countryNames...)

	industryIdx := make(map[string]int, len(industryNames))
	for i, n := range industryNames {
		industryIdx[n] = i
	}
	countryIdx := make(map[string]int, len(countryNames))
	for i, n := range countryNames {
		countryIdx[n] = i
	}

	extraCount := len(industryNames) + len(countryNames)
	for i, id := range securityIDs {
		if m.Imputed != nil {
			m.Imputed[i] = append(m.Imputed[i], make([]bool, extraCount)...)
		}
		extra := make([]float64, extraCount)
		if l, ok := labels[id]; ok {
			for _, name := range []string{sectorFactorName(l.Sector), industryFactorName(l.Industry), subIndustryFactorName(l.SubIndustry)} {
				if idx, ok := industryIdx[name]; ok {
					extra[idx] = 1
				}
			}
			if idx, ok := countryIdx[countryFactorName(l.Country)]; ok {
				extra[len(industryNames)+idx] = 1
			}
		}
		m.Values[i] = append(m.Values[i], extra...)
	}
}
