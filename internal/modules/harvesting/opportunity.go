package harvesting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// Opportunity is one candidate tax-loss-harvesting trade: a lot with an
// unrealized loss, its tax benefit if sold, and (if found) a replacement
// security to maintain market exposure through the wash-sale window.
type Opportunity struct {
	AccountID          int64
	Lot                domain.TaxLot
	CurrentPrice       decimal.Decimal
	UnrealizedLoss     decimal.Decimal // negative; zero/positive means not a loss
	IsLongTerm         bool
	TaxRate            decimal.Decimal
	TaxBenefit         decimal.Decimal
	WashSaleViolation    bool
	ReplacementSecurityID int64
	ReplacementSymbol    string
	ReplacementScore     float64
	Score                float64
}

// UnrealizedLoss computes (current_price - cost_basis) * quantity for a
// lot. A positive result is a gain and is never surfaced as an opportunity.
func UnrealizedLoss(lot domain.TaxLot, currentPrice float64) decimal.Decimal {
	cost := decimal.NewFromFloat(lot.CostBasis)
	price := decimal.NewFromFloat(currentPrice)
	qty := decimal.NewFromFloat(lot.Quantity)
	return price.Sub(cost).Mul(qty)
}

// IsLongTerm reports whether a lot's holding period as of asOf meets the
// long-term threshold in days.
func IsLongTerm(lot domain.TaxLot, asOf time.Time, longTermDays int) bool {
	return lot.HoldingPeriodDays(asOf) >= longTermDays
}

// TaxBenefit computes the dollar tax benefit of realizing a lot's loss:
// the absolute loss times the applicable short- or long-term rate. Gains
// (non-negative loss) never produce a benefit.
func TaxBenefit(loss decimal.Decimal, longTerm bool, shortTermRate, longTermRate float64) decimal.Decimal {
	if loss.IsPositive() || loss.IsZero() {
		return decimal.Zero
	}
	rate := decimal.NewFromFloat(shortTermRate)
	if longTerm {
		rate = decimal.NewFromFloat(longTermRate)
	}
	return loss.Abs().Mul(rate)
}

// scoreNormalizationScale rescales the loss-normalized score onto a range
// comparable with the dollar tax benefits opportunities are otherwise
// compared by; 100 keeps scores in the same rough order of magnitude as
// the underlying tax rate (a fraction of the loss) expressed as a percentage.
const scoreNormalizationScale = 100.0

// topKMeanSimilarity averages the similarity score of the top k ranked
// replacement candidates, reporting false if there are none at all.
func topKMeanSimilarity(ranked []Candidate, k int) (float64, bool) {
	if len(ranked) == 0 {
		return 0, false
	}
	if len(ranked) < k {
		k = len(ranked)
	}
	var sum float64
	for _, c := range ranked[:k] {
		sum += c.Score
	}
	return sum / float64(k), true
}

// Score ranks an opportunity starting from its dollar tax benefit, boosted
// by up to 20% for a strong slate of replacement candidates, discounted by
// 30% when no valid replacement exists at all, halved outright when the
// sale would trigger the wash-sale rule, and finally normalized against
// the size of the underlying loss so opportunities of different sizes are
// comparable. The wash-sale discount is applied last, after the
// replacement-quality adjustments, so that two otherwise-identical
// opportunities differing only in wash-sale exposure score in an exact 2:1
// ratio regardless of their replacement slate.
func Score(unrealizedLoss, taxBenefit decimal.Decimal, washSaleViolation bool, replacements []Candidate) float64 {
	benefit, _ := taxBenefit.Float64()
	meanSimilarity, hasReplacement := topKMeanSimilarity(replacements, 3)

	score := benefit + 0.2*benefit*meanSimilarity
	if !hasReplacement {
		score *= 0.7
	}
	if washSaleViolation {
		score *= 0.5
	}

	lossAbs, _ := unrealizedLoss.Abs().Float64()
	if lossAbs > 0 {
		score = score / lossAbs * scoreNormalizationScale
	}
	return score
}
