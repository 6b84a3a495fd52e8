package harvesting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// TestUnrealizedLossAndTaxBenefit_ScenarioS1 mirrors the documented
// scenario: 100 shares of AAA at $110 cost, $90 current price, short-term
// at the 0.37 rate, giving a $2000 loss and a $740 tax benefit.
func TestUnrealizedLossAndTaxBenefit_ScenarioS1(t *testing.T) {
	lot := domain.TaxLot{
		Symbol:       "AAA",
		Quantity:     100,
		CostBasis:    110,
		PurchaseDate: time.Now().AddDate(0, -3, 0), // well under a year: short-term
	}

	loss := UnrealizedLoss(lot, 90)
	lossFloat, _ := loss.Float64()
	assert.InDelta(t, -2000.0, lossFloat, 1e-9)

	longTerm := IsLongTerm(lot, time.Now(), 365)
	assert.False(t, longTerm)

	benefit := TaxBenefit(loss, longTerm, 0.37, 0.20)
	benefitFloat, _ := benefit.Float64()
	assert.InDelta(t, 740.0, benefitFloat, 1e-9)
}

func TestTaxBenefit_GainProducesNoBenefit(t *testing.T) {
	gain := UnrealizedLoss(domain.TaxLot{Quantity: 10, CostBasis: 50}, 60)
	benefit := TaxBenefit(gain, false, 0.37, 0.20)
	assert.True(t, benefit.IsZero())
}

func TestIsLongTerm_Boundary(t *testing.T) {
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exactlyOneYear := domain.TaxLot{PurchaseDate: asOf.AddDate(-1, 0, 0)}
	assert.True(t, IsLongTerm(exactlyOneYear, asOf, 365))

	oneDayShort := domain.TaxLot{PurchaseDate: asOf.AddDate(-1, 0, 1)}
	assert.False(t, IsLongTerm(oneDayShort, asOf, 365))
}

func TestScore_WashSaleViolationHalvesScore(t *testing.T) {
	loss := decimal.NewFromFloat(-2000)
	benefit := decimal.NewFromFloat(740)
	replacements := []Candidate{{Score: 0.8}, {Score: 0.6}, {Score: 0.4}}

	clean := Score(loss, benefit, false, replacements)
	violating := Score(loss, benefit, true, replacements)

	assert.Greater(t, violating, 0.0)
	assert.InDelta(t, clean/2, violating, 1e-9)
}

func TestScore_NoReplacementAppliesPenalty(t *testing.T) {
	loss := decimal.NewFromFloat(-2000)
	benefit := decimal.NewFromFloat(740)

	withReplacement := Score(loss, benefit, false, []Candidate{{Score: 1.0}})
	withoutReplacement := Score(loss, benefit, false, nil)

	assert.Greater(t, withReplacement, withoutReplacement)
}
