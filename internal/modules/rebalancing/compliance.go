package rebalancing

import (
	"fmt"
	"time"

	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
)

// Violation is one compliance check failure or warning found before
// trades are submitted for execution.
type Violation struct {
	Severity string // "error" or "warning"
	Message  string
}

// CheckTrades runs the pre-trade compliance battery: a wash-sale recheck
// on every delta-driven sell (the history may have changed since the trades
// were planned; harvest sells are not rechecked, as the harvest scan only
// selects wash-sale-clean opportunities), sufficient lot quantity for every
// sell, positive price and quantity on every trade, and a warning pass for
// duplicate symbol/side pairs, for a security whose sells and buys cancel
// out, and for a batch whose total traded value is negligible.
func CheckTrades(trades []domain.RebalancingTrade, lotsBySecurity map[int64][]domain.TaxLot, detector *harvesting.WashSaleDetector, history []domain.Transaction, asOf time.Time, prices map[int64]float64) []Violation {
	var violations []Violation

	lotQuantity := make(map[int64]float64)
	for _, lots := range lotsBySecurity {
		for _, l := range lots {
			lotQuantity[l.ID] = l.Quantity
		}
	}

	var sellValue, buyValue float64

	for _, t := range trades {
		if t.Quantity <= 0 {
			violations = append(violations, Violation{Severity: "error", Message: fmt.Sprintf("trade for %s has non-positive quantity %.6f", t.Symbol, t.Quantity)})
			continue
		}

		if t.Side == domain.TransactionSideSell {
			if price, ok := prices[t.SecurityID]; ok {
				sellValue += t.Quantity * price
			}
			if price, ok := prices[t.SecurityID]; ok && price <= 0 {
				violations = append(violations, Violation{Severity: "error", Message: fmt.Sprintf("sell of %s has non-positive price", t.Symbol)})
			}
			if t.LotID != 0 {
				available, ok := lotQuantity[t.LotID]
				if !ok {
					violations = append(violations, Violation{Severity: "error", Message: fmt.Sprintf("sell references unknown lot %d for %s", t.LotID, t.Symbol)})
				} else if t.Quantity > available+1e-9 {
					violations = append(violations, Violation{Severity: "error", Message: fmt.Sprintf("sell of %.6f exceeds lot %d balance %.6f for %s", t.Quantity, t.LotID, available, t.Symbol)})
				}
			}
			if t.Type != domain.TradeTypeHarvest && detector != nil && detector.Violates(t.Symbol, asOf, history) {
				violations = append(violations, Violation{Severity: "warning", Message: fmt.Sprintf("sell of %s falls within the wash-sale window", t.Symbol)})
			}
		} else {
			if price, ok := prices[t.SecurityID]; ok {
				buyValue += t.Quantity * price
			}
			if price, ok := prices[t.SecurityID]; ok && price <= 0 {
				violations = append(violations, Violation{Severity: "error", Message: fmt.Sprintf("buy of %s has non-positive price", t.Symbol)})
			}
		}
	}

	seen := make(map[string]int)
	netQuantity := make(map[string]float64)
	for _, t := range trades {
		key := fmt.Sprintf("%s:%s", t.Symbol, t.Side)
		seen[key]++
		if t.Side == domain.TransactionSideSell {
			netQuantity[t.Symbol] -= t.Quantity
		} else {
			netQuantity[t.Symbol] += t.Quantity
		}
	}
	for key, count := range seen {
		if count > 1 {
			violations = append(violations, Violation{Severity: "warning", Message: fmt.Sprintf("duplicate trades for %s", key)})
		}
	}
	for symbol, q := range netQuantity {
		bothSides := seen[fmt.Sprintf("%s:%s", symbol, domain.TransactionSideSell)] > 0 && seen[fmt.Sprintf("%s:%s", symbol, domain.TransactionSideBuy)] > 0
		if bothSides && q > -1e-9 && q < 1e-9 {
			violations = append(violations, Violation{Severity: "warning", Message: fmt.Sprintf("sells and buys of %s cancel out", symbol)})
		}
	}

	if len(trades) > 0 && sellValue+buyValue < 1.0 {
		violations = append(violations, Violation{Severity: "warning", Message: "batch trades negligible total value, unlikely to be worth its transaction costs"})
	}

	return violations
}

// HasErrors reports whether any violation is severity "error", the
// condition that should block execution entirely.
func HasErrors(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == "error" {
			return true
		}
	}
	return false
}
