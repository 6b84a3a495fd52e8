package harvesting

import (
	"sort"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// LotSelector picks which lots of a security to draw down for a sale of a
// given quantity, in priority order. Implementations are a strategy the
// rebalancer is configured with, not a fixed policy.
type LotSelector interface {
	Name() string
	SelectLots(lots []domain.TaxLot, quantity float64, currentPrice float64) []LotAllocation
}

// LotAllocation is one lot and the quantity to draw from it.
type LotAllocation struct {
	Lot      domain.TaxLot
	Quantity float64
}

// allocate walks lots in the given order, taking as much of each as needed
// until the requested quantity is satisfied.
func allocate(ordered []domain.TaxLot, quantity float64) []LotAllocation {
	var out []LotAllocation
	remaining := quantity
	for _, lot := range ordered {
		if remaining <= 0 {
			break
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		out = append(out, LotAllocation{Lot: lot, Quantity: take})
		remaining -= take
	}
	return out
}

// HIFOSelector sells the highest-cost-basis lots first, maximizing the
// realized loss (or minimizing the realized gain) per share sold.
type HIFOSelector struct{}

func (HIFOSelector) Name() string { return "hifo" }

func (HIFOSelector) SelectLots(lots []domain.TaxLot, quantity, currentPrice float64) []LotAllocation {
	ordered := append([]domain.TaxLot(nil), lots...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CostBasis > ordered[j].CostBasis })
	return allocate(ordered, quantity)
}

// FIFOSelector sells the oldest lots first.
type FIFOSelector struct{}

func (FIFOSelector) Name() string { return "fifo" }

func (FIFOSelector) SelectLots(lots []domain.TaxLot, quantity, currentPrice float64) []LotAllocation {
	ordered := append([]domain.TaxLot(nil), lots...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PurchaseDate.Before(ordered[j].PurchaseDate) })
	return allocate(ordered, quantity)
}

// MinTaxSelector prioritizes lots that minimize the immediate tax impact
// of the sale: long-term losses first (full benefit, no rate penalty),
// then short-term losses, then long-term gains, then short-term gains
// last (highest tax cost per dollar of gain).
type MinTaxSelector struct {
	AsOfDays     func(domain.TaxLot) int
	LongTermDays int
}

func (s MinTaxSelector) Name() string { return "mintax" }

func (s MinTaxSelector) SelectLots(lots []domain.TaxLot, quantity, currentPrice float64) []LotAllocation {
	ordered := append([]domain.TaxLot(nil), lots...)
	sort.Slice(ordered, func(i, j int) bool {
		return minTaxRank(ordered[i], currentPrice, s.longTerm(ordered[i])) <
			minTaxRank(ordered[j], currentPrice, s.longTerm(ordered[j]))
	})
	return allocate(ordered, quantity)
}

func (s MinTaxSelector) longTerm(lot domain.TaxLot) bool {
	if s.AsOfDays != nil {
		return s.AsOfDays(lot) >= s.LongTermDays
	}
	return false
}

// minTaxRank ranks a lot: lower is sold first. Long-term losses rank
// lowest, short-term gains rank highest.
func minTaxRank(lot domain.TaxLot, currentPrice float64, longTerm bool) float64 {
	gain := (currentPrice - lot.CostBasis) * lot.Quantity
	isLoss := gain < 0
	switch {
	case isLoss && longTerm:
		return gain // most negative (largest loss) first
	case isLoss && !longTerm:
		return 1e12 + gain
	case !isLoss && longTerm:
		return 2e12 + gain
	default:
		return 3e12 + gain
	}
}

// NewLotSelector constructs the configured strategy by name.
func NewLotSelector(strategy string, longTermDays int, asOf func(domain.TaxLot) int) LotSelector {
	switch strategy {
	case "fifo":
		return FIFOSelector{}
	case "mintax":
		return MinTaxSelector{AsOfDays: asOf, LongTermDays: longTermDays}
	default:
		return HIFOSelector{}
	}
}
