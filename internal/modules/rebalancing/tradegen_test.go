package rebalancing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
)

func TestGenerateTrades_SellsComeBeforeBuys(t *testing.T) {
	lots := map[int64][]domain.TaxLot{
		1: {{ID: 1, SecurityID: 1, Symbol: "AAA", Quantity: 100, CostBasis: 50}},
		2: {{ID: 2, SecurityID: 2, Symbol: "BBB", Quantity: 100, CostBasis: 50}},
	}

	trades := GenerateTrades(TradeGenInputs{
		SecurityIDs:    []int64{1, 2},
		Symbols:        []string{"AAA", "BBB"},
		CurrentWeights: []float64{0.6, 0.4},
		TargetWeights:  []float64{0.4, 0.6},
		Prices:         []float64{10, 10},
		PortfolioValue: 2000,
		LotsBySecurity: lots,
		Selector:       harvesting.HIFOSelector{},
	})

	assert.NotEmpty(t, trades)
	sawBuy := false
	for _, tr := range trades {
		if tr.Side == domain.TransactionSideBuy {
			sawBuy = true
		}
		if sawBuy {
			assert.NotEqual(t, domain.TransactionSideSell, tr.Side)
		}
	}
}

func TestGenerateTrades_SkipsNegligibleDeltas(t *testing.T) {
	lots := map[int64][]domain.TaxLot{
		1: {{ID: 1, SecurityID: 1, Symbol: "AAA", Quantity: 100, CostBasis: 50}},
	}
	trades := GenerateTrades(TradeGenInputs{
		SecurityIDs:    []int64{1},
		Symbols:        []string{"AAA"},
		CurrentWeights: []float64{0.5},
		TargetWeights:  []float64{0.5},
		Prices:         []float64{10},
		PortfolioValue: 1000,
		LotsBySecurity: lots,
		Selector:       harvesting.HIFOSelector{},
	})
	assert.Empty(t, trades)
}

func TestGenerateTrades_HarvestOverrideSellsFullLotAndBuysReplacement(t *testing.T) {
	lots := map[int64][]domain.TaxLot{
		1: {{ID: 1, SecurityID: 1, Symbol: "AAA", Quantity: 100, CostBasis: 120}},
	}
	opp := harvesting.Opportunity{
		Lot:                   lots[1][0],
		CurrentPrice:          decimal.NewFromFloat(90),
		ReplacementSecurityID: 2,
		ReplacementSymbol:     "CCC",
	}

	trades := GenerateTrades(TradeGenInputs{
		SecurityIDs:      []int64{1, 2},
		Symbols:          []string{"AAA", "CCC"},
		CurrentWeights:   []float64{0.5, 0.5},
		TargetWeights:    []float64{0.5, 0.5},
		Prices:           []float64{90, 45},
		PortfolioValue:   10000,
		LotsBySecurity:   lots,
		Selector:         harvesting.HIFOSelector{},
		HarvestOverrides: []harvesting.Opportunity{opp},
	})

	var sawHarvestSell, sawReplacementBuy bool
	for _, tr := range trades {
		if tr.Type == domain.TradeTypeHarvest && tr.Side == domain.TransactionSideSell && tr.Symbol == "AAA" {
			sawHarvestSell = true
			assert.Equal(t, 100.0, tr.Quantity)
		}
		if tr.Type == domain.TradeTypeHarvest && tr.Side == domain.TransactionSideBuy && tr.Symbol == "CCC" {
			sawReplacementBuy = true
			assert.InDelta(t, 200.0, tr.Quantity, 1e-6) // 9000 proceeds / 45 price
		}
	}
	assert.True(t, sawHarvestSell)
	assert.True(t, sawReplacementBuy)
}
