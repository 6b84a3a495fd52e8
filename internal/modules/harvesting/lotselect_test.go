package harvesting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

func sampleLots() []domain.TaxLot {
	return []domain.TaxLot{
		{Symbol: "AAA", Quantity: 50, CostBasis: 80, PurchaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Symbol: "AAA", Quantity: 30, CostBasis: 120, PurchaseDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{Symbol: "AAA", Quantity: 20, CostBasis: 100, PurchaseDate: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestHIFOSelector_OrdersByCostBasisDescending(t *testing.T) {
	sel := HIFOSelector{}
	allocs := sel.SelectLots(sampleLots(), 60, 90)
	assert.Equal(t, "hifo", sel.Name())
	assert.Equal(t, 120.0, allocs[0].Lot.CostBasis)
	assert.Equal(t, 30.0, allocs[0].Quantity)
	assert.Equal(t, 100.0, allocs[1].Lot.CostBasis)
	assert.Equal(t, 20.0, allocs[1].Quantity)
}

func TestFIFOSelector_OrdersByPurchaseDateAscending(t *testing.T) {
	sel := FIFOSelector{}
	allocs := sel.SelectLots(sampleLots(), 60, 90)
	assert.Equal(t, "fifo", sel.Name())
	assert.Equal(t, 2023, allocs[0].Lot.PurchaseDate.Year())
	assert.Equal(t, 20.0, allocs[0].Quantity)
	assert.Equal(t, 2024, allocs[1].Lot.PurchaseDate.Year())
	assert.Equal(t, 40.0, allocs[1].Quantity)
}

func TestMinTaxSelector_PrefersLongTermLossesFirst(t *testing.T) {
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sel := MinTaxSelector{
		LongTermDays: 365,
		AsOfDays: func(lot domain.TaxLot) int {
			return int(asOf.Sub(lot.PurchaseDate).Hours() / 24)
		},
	}
	lots := sampleLots()
	allocs := sel.SelectLots(lots, 20, 90)
	assert.Equal(t, "mintax", sel.Name())
	// lot bought 2023-03-01 at cost 100 is long-term and a loss at price 90: should rank first.
	assert.Equal(t, 100.0, allocs[0].Lot.CostBasis)
}

func TestAllocate_StopsWhenQuantitySatisfied(t *testing.T) {
	lots := []domain.TaxLot{
		{Symbol: "AAA", Quantity: 10},
		{Symbol: "AAA", Quantity: 10},
	}
	allocs := allocate(lots, 5)
	assert.Len(t, allocs, 1)
	assert.Equal(t, 5.0, allocs[0].Quantity)
}
