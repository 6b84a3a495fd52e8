package rebalancing

import (
	"sort"

	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
)

// minTradeQuantity below this, a delta is treated as rounding noise rather
// than a trade worth paying transaction cost for.
const minTradeQuantity = 1e-6

// TradeGenInputs is everything needed to turn an optimizer's target weight
// vector into an ordered list of trades against an account's actual lots.
type TradeGenInputs struct {
	SecurityIDs    []int64
	Symbols        []string
	CurrentWeights []float64
	TargetWeights  []float64
	Prices         []float64 // aligned with SecurityIDs
	PortfolioValue float64

	LotsBySecurity map[int64][]domain.TaxLot
	Selector       harvesting.LotSelector

	// HarvestOverrides are the opportunities selected for this cycle
	// (already filtered to wash-sale-clean, score-ranked, top-N). Each
	// fully sells its lot and, when a replacement was found, buys into
	// the replacement security with the freed proceeds, overriding
	// whatever delta-driven trade would otherwise have touched that lot.
	HarvestOverrides []harvesting.Opportunity
}

// GenerateTrades converts target weights into an ordered trade list: all
// sells first (freeing cash and realizing losses), then buys, the order a
// cash-constrained taxable account needs trades submitted in.
func GenerateTrades(in TradeGenInputs) []domain.RebalancingTrade {
	overriddenLots := make(map[int64]bool, len(in.HarvestOverrides))
	var trades []domain.RebalancingTrade

	for _, opp := range in.HarvestOverrides {
		overriddenLots[opp.Lot.ID] = true
		trades = append(trades, domain.RebalancingTrade{
			SecurityID: opp.Lot.SecurityID,
			Symbol:     opp.Lot.Symbol,
			Side:       domain.TransactionSideSell,
			Quantity:   opp.Lot.Quantity,
			LotID:      opp.Lot.ID,
			Type:       domain.TradeTypeHarvest,
			Reason:     "tax_loss_harvest",
		})
		if opp.ReplacementSymbol != "" {
			soldPrice, _ := opp.CurrentPrice.Float64()
			proceeds := soldPrice * opp.Lot.Quantity
			price, ok := priceBySecurity(in, opp.ReplacementSecurityID)
			if ok && price > 0 {
				trades = append(trades, domain.RebalancingTrade{
					SecurityID: opp.ReplacementSecurityID,
					Symbol:     opp.ReplacementSymbol,
					Side:       domain.TransactionSideBuy,
					Quantity:   proceeds / price,
					Type:       domain.TradeTypeHarvest,
					Reason:     "harvest_replacement",
				})
			}
		}
	}

	for i, secID := range in.SecurityIDs {
		price := in.Prices[i]
		if price <= 0 {
			continue
		}
		deltaWeight := in.TargetWeights[i] - in.CurrentWeights[i]
		deltaQty := deltaWeight * in.PortfolioValue / price
		if deltaQty > -minTradeQuantity && deltaQty < minTradeQuantity {
			continue
		}

		if deltaQty < 0 {
			lots := remainingLots(in.LotsBySecurity[secID], overriddenLots)
			for _, alloc := range in.Selector.SelectLots(lots, -deltaQty, price) {
				trades = append(trades, domain.RebalancingTrade{
					SecurityID: secID,
					Symbol:     alloc.Lot.Symbol,
					Side:       domain.TransactionSideSell,
					Quantity:   alloc.Quantity,
					LotID:      alloc.Lot.ID,
					Type:       domain.TradeTypeRebalance,
					Reason:     "drift",
				})
			}
			continue
		}

		trades = append(trades, domain.RebalancingTrade{
			SecurityID: secID,
			Symbol:     in.Symbols[i],
			Side:       domain.TransactionSideBuy,
			Quantity:   deltaQty,
			Type:       domain.TradeTypeRebalance,
			Reason:     "drift",
		})
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Side == domain.TransactionSideSell && trades[j].Side != domain.TransactionSideSell
	})
	return trades
}

func remainingLots(lots []domain.TaxLot, excluded map[int64]bool) []domain.TaxLot {
	if len(excluded) == 0 {
		return lots
	}
	out := make([]domain.TaxLot, 0, len(lots))
	for _, l := range lots {
		if !excluded[l.ID] {
			out = append(out, l)
		}
	}
	return out
}

func priceBySecurity(in TradeGenInputs, securityID int64) (float64, bool) {
	for i, id := range in.SecurityIDs {
		if id == securityID {
			return in.Prices[i], true
		}
	}
	return 0, false
}
