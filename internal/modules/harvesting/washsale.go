package harvesting

import (
	"time"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// WashSaleDetector checks proposed loss sales against the 61-day wash-sale
// window (the configured window on each side of the sale date) and
// computes the set of securities a household is currently restricted from
// buying because of recent or pending loss sales. The detector itself is
// account-agnostic: callers enforce the single-account or household-level
// rule by passing it that account's own transaction history or a
// household-wide union of every account sharing a household_id.
type WashSaleDetector struct {
	windowDays int
}

// NewWashSaleDetector creates a detector using the given half-window in
// days (30 gives the standard 61-day window centered on the sale date).
func NewWashSaleDetector(windowDays int) *WashSaleDetector {
	return &WashSaleDetector{windowDays: windowDays}
}

// Violates reports whether selling symbol on saleDate would trigger a wash
// sale, given the account's transaction history: true if the same security
// was bought within the window around the sale, or sold then rebought
// within the window.
func (d *WashSaleDetector) Violates(symbol string, saleDate time.Time, history []domain.Transaction) bool {
	windowStart := saleDate.AddDate(0, 0, -d.windowDays)
	windowEnd := saleDate.AddDate(0, 0, d.windowDays)

	for _, tx := range history {
		if tx.Symbol != symbol {
			continue
		}
		if tx.Date.Equal(saleDate) {
			continue
		}
		if tx.Side != domain.TransactionSideBuy {
			continue
		}
		if !tx.Date.Before(windowStart) && !tx.Date.After(windowEnd) {
			return true
		}
	}
	return false
}

// RestrictedBuys returns the set of symbols that cannot be bought as of
// asOf without risking a wash sale: every security sold within the
// trailing window. Sells are not filtered by realized gain or loss.
func (d *WashSaleDetector) RestrictedBuys(asOf time.Time, history []domain.Transaction) map[string]bool {
	restricted := make(map[string]bool)
	windowStart := asOf.AddDate(0, 0, -d.windowDays)

	for _, tx := range history {
		if tx.Side != domain.TransactionSideSell {
			continue
		}
		if tx.Date.Before(windowStart) || tx.Date.After(asOf) {
			continue
		}
		restricted[tx.Symbol] = true
	}
	return restricted
}

// CheckLot checks a single tax lot's sale for a wash-sale violation
// against whatever history the caller passes (household-unioned in the
// services).
func (d *WashSaleDetector) CheckLot(lot domain.TaxLot, saleDate time.Time, history []domain.Transaction) bool {
	return d.Violates(lot.Symbol, saleDate, history)
}
