package harvesting

import (
	"math"
	"sort"

	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/pkg/formulas"
)

// similarity weights for replacement candidate scoring, capped at 1.0.
const (
	sameSectorWeight       = 0.5
	sameIndustryWeight     = 0.3
	sameExchangeWeight     = 0.1
	sameSecurityTypeWeight = 0.1

	minCommonDates = 30
)

// SimilarityScore rates a candidate replacement security against the one
// being sold, combining sector/industry/exchange/security-type matches.
// securityType is compared by exchange listing class (e.g. "ETF" vs
// "common stock"); callers pass whatever classification they track.
func SimilarityScore(sold, candidate domain.Security, soldType, candidateType string) float64 {
	var score float64
	if sold.Sector != "" && sold.Sector == candidate.Sector {
		score += sameSectorWeight
	}
	if sold.Industry != "" && sold.Industry == candidate.Industry {
		score += sameIndustryWeight
	}
	if sold.Exchange != "" && sold.Exchange == candidate.Exchange {
		score += sameExchangeWeight
	}
	if soldType != "" && soldType == candidateType {
		score += sameSecurityTypeWeight
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// PassesCorrelationFilter reports whether a candidate's historical daily
// returns are correlated enough with the sold security's to serve as a
// replacement, using the configured trailing window and minimum threshold.
// If too few common observations exist, the filter is skipped (returns
// true) rather than rejecting a candidate on insufficient data.
func PassesCorrelationFilter(soldReturns, candidateReturns []float64, minCorrelation float64) bool {
	n := len(soldReturns)
	if len(candidateReturns) < n {
		n = len(candidateReturns)
	}
	if n < minCommonDates {
		return true
	}
	corr := formulas.Correlation(soldReturns[:n], candidateReturns[:n])
	return math.Abs(corr) >= minCorrelation
}

// Candidate is a scored replacement option for a harvested security.
type Candidate struct {
	Security domain.Security
	Score    float64
}

// RankReplacements scores every candidate that passes the correlation
// filter and returns them sorted by similarity score descending, so a
// caller can take the single best match or, e.g., the top 3 for a
// diversification-weighted score.
func RankReplacements(
	sold domain.Security,
	soldType string,
	soldReturns []float64,
	candidates []domain.Security,
	candidateTypes map[int64]string,
	candidateReturns map[int64][]float64,
	minCorrelation float64,
) []Candidate {
	var ranked []Candidate
	for _, c := range candidates {
		if c.ID == sold.ID {
			continue
		}
		if !PassesCorrelationFilter(soldReturns, candidateReturns[c.ID], minCorrelation) {
			continue
		}
		ranked = append(ranked, Candidate{
			Security: c,
			Score:    SimilarityScore(sold, c, soldType, candidateTypes[c.ID]),
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// FindReplacement selects the highest-scoring candidate that passes the
// correlation filter, or reports found=false if none qualify.
func FindReplacement(
	sold domain.Security,
	soldType string,
	soldReturns []float64,
	candidates []domain.Security,
	candidateTypes map[int64]string,
	candidateReturns map[int64][]float64,
	minCorrelation float64,
) (best Candidate, found bool) {
	ranked := RankReplacements(sold, soldType, soldReturns, candidates, candidateTypes, candidateReturns, minCorrelation)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}
