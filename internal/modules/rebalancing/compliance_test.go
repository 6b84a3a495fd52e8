package rebalancing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
)

func TestCheckTrades_FlagsSellExceedingLotBalance(t *testing.T) {
	lots := map[int64][]domain.TaxLot{
		1: {{ID: 1, SecurityID: 1, Symbol: "AAA", Quantity: 10}},
	}
	trades := []domain.RebalancingTrade{
		{SecurityID: 1, Symbol: "AAA", Side: domain.TransactionSideSell, Quantity: 20, LotID: 1},
	}
	violations := CheckTrades(trades, lots, nil, nil, time.Now(), map[int64]float64{1: 10})
	assert.True(t, HasErrors(violations))
}

func TestCheckTrades_FlagsNonPositiveQuantity(t *testing.T) {
	trades := []domain.RebalancingTrade{
		{SecurityID: 1, Symbol: "AAA", Side: domain.TransactionSideBuy, Quantity: 0},
	}
	violations := CheckTrades(trades, nil, nil, nil, time.Now(), nil)
	assert.True(t, HasErrors(violations))
}

func TestCheckTrades_WarnsOnWashSaleForNonHarvestSell(t *testing.T) {
	detector := harvesting.NewWashSaleDetector(30)
	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	history := []domain.Transaction{
		{Symbol: "AAA", Side: domain.TransactionSideBuy, Date: asOf.AddDate(0, 0, -5)},
	}
	lots := map[int64][]domain.TaxLot{
		1: {{ID: 1, SecurityID: 1, Symbol: "AAA", Quantity: 100}},
	}
	trades := []domain.RebalancingTrade{
		{SecurityID: 1, Symbol: "AAA", Side: domain.TransactionSideSell, Quantity: 10, LotID: 1, Type: domain.TradeTypeRebalance},
	}
	violations := CheckTrades(trades, lots, detector, history, asOf, map[int64]float64{1: 50})
	assert.False(t, HasErrors(violations))
	assert.NotEmpty(t, violations)
}

func TestCheckTrades_NoViolationsForCleanBatch(t *testing.T) {
	lots := map[int64][]domain.TaxLot{
		1: {{ID: 1, SecurityID: 1, Symbol: "AAA", Quantity: 100}},
	}
	trades := []domain.RebalancingTrade{
		{SecurityID: 1, Symbol: "AAA", Side: domain.TransactionSideSell, Quantity: 10, LotID: 1},
		{SecurityID: 2, Symbol: "BBB", Side: domain.TransactionSideBuy, Quantity: 10},
	}
	prices := map[int64]float64{1: 50, 2: 50}
	violations := CheckTrades(trades, lots, nil, nil, time.Now(), prices)
	assert.False(t, HasErrors(violations))
}
