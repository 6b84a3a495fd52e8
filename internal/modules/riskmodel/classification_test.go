package riskmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassificationFactorNames_DeduplicatesAndSorts(t *testing.T) {
	labels := map[int64]ClassificationLabels{
		1: {Sector: "Technology", Industry: "Software", SubIndustry: "Application Software", Country: "US"},
		2: {Sector: "Technology", Industry: "Hardware", SubIndustry: "Semiconductors", Country: "US"},
		3: {Sector: "Financials", Industry: "Banks", SubIndustry: "Regional Banks", Country: "DE"},
	}

	industry, country := ClassificationFactorNames(labels)

	assert.Contains(t, industry, "Sector:Technology")
	assert.Contains(t, industry, "Sector:Financials")
	assert.Contains(t, industry, "Industry:Software")
	assert.Contains(t, industry, "SubIndustry:Semiconductors")
	assert.Len(t, industry, 8) // 2 sectors + 3 industries + 3 sub-industries, all distinct
	assert.Equal(t, []string{"Country:DE", "Country:US"}, country)
}

func TestBuildClassificationExposures_RowsSumToOnePerLevel(t *testing.T) {
	securityIDs := []int64{1, 2}
	labels := map[int64]ClassificationLabels{
		1: {Sector: "Technology", Industry: "Software", SubIndustry: "Application Software", Country: "US"},
		2: {Sector: "Financials", Industry: "Banks", SubIndustry: "Regional Banks", Country: "DE"},
	}
	industry, country := ClassificationFactorNames(labels)

	m := &ExposureMatrix{
		SecurityIDs: securityIDs,
		FactorNames: []string{"Size"},
		Values: [][]float64{
			{1.0},
			{2.0},
		},
	}
	BuildClassificationExposures(m, securityIDs, labels, industry, country)

	assert.Len(t, m.FactorNames, 1+len(industry)+len(country))
	for i := range securityIDs {
		row := m.Values[i][1:] // drop the pre-existing Size column
		industryPart := row[:len(industry)]
		countryPart := row[len(industry):]

		var industrySum, countrySum float64
		for _, v := range industryPart {
			industrySum += v
		}
		for _, v := range countryPart {
			countrySum += v
		}
		assert.InDelta(t, 3.0, industrySum, 1e-9) // sector + industry + sub-industry, one each
		assert.InDelta(t, 1.0, countrySum, 1e-9)
	}
}

func TestBuildClassificationExposures_MissingLabelGetsAllZeros(t *testing.T) {
	securityIDs := []int64{1, 2}
	labels := map[int64]ClassificationLabels{
		1: {Sector: "Technology", Industry: "Software", SubIndustry: "Application Software", Country: "US"},
	}
	industry, country := ClassificationFactorNames(labels)

	m := &ExposureMatrix{
		SecurityIDs: securityIDs,
		FactorNames: []string{},
		Values:      [][]float64{{}, {}},
	}
	BuildClassificationExposures(m, securityIDs, labels, industry, country)

	for _, v := range m.Values[1] {
		assert.Equal(t, 0.0, v)
	}
}
