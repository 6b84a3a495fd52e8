package harvesting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

func TestWashSaleDetector_ViolatesOnBuyWithinWindow(t *testing.T) {
	d := NewWashSaleDetector(30)
	saleDate := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	history := []domain.Transaction{
		{Symbol: "AAA", Side: domain.TransactionSideBuy, Date: saleDate.AddDate(0, 0, -10)},
	}
	assert.True(t, d.Violates("AAA", saleDate, history))
}

func TestWashSaleDetector_NoViolationOutsideWindow(t *testing.T) {
	d := NewWashSaleDetector(30)
	saleDate := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	history := []domain.Transaction{
		{Symbol: "AAA", Side: domain.TransactionSideBuy, Date: saleDate.AddDate(0, 0, -45)},
	}
	assert.False(t, d.Violates("AAA", saleDate, history))
}

func TestWashSaleDetector_NoViolationForDifferentSymbol(t *testing.T) {
	d := NewWashSaleDetector(30)
	saleDate := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	history := []domain.Transaction{
		{Symbol: "BBB", Side: domain.TransactionSideBuy, Date: saleDate.AddDate(0, 0, -5)},
	}
	assert.False(t, d.Violates("AAA", saleDate, history))
}

func TestWashSaleDetector_RestrictedBuysIncludesRecentSales(t *testing.T) {
	d := NewWashSaleDetector(30)
	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	history := []domain.Transaction{
		{Symbol: "AAA", Side: domain.TransactionSideSell, Date: asOf.AddDate(0, 0, -5)},
		{Symbol: "BBB", Side: domain.TransactionSideSell, Date: asOf.AddDate(0, 0, -45)},
	}
	restricted := d.RestrictedBuys(asOf, history)
	assert.True(t, restricted["AAA"])
	assert.False(t, restricted["BBB"])
}
