package harvesting

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/taxaware/portfolio-engine/internal/config"
	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/pkg/formulas"
)

// Service scans an account's tax lots for harvesting opportunities:
// unrealized losses worth realizing, checked against the wash-sale rule
// and paired with a replacement security when one is available.
type Service struct {
	accountDB   *sql.DB
	analyticsDB *sql.DB
	securities  *SecurityRepository
	detector    *WashSaleDetector
	cfg         *config.Config
	log         zerolog.Logger
}

// NewService creates a new harvesting service.
func NewService(accountDB, analyticsDB *sql.DB, cfg *config.Config, log zerolog.Logger) *Service {
	_ = InitSchema(accountDB)
	scopedLog := log.With().Str("component", "harvesting").Logger()
	return &Service{
		accountDB:   accountDB,
		analyticsDB: analyticsDB,
		securities:  NewSecurityRepository(analyticsDB, scopedLog),
		detector:    NewWashSaleDetector(cfg.WashSaleWindowDays),
		cfg:         cfg,
		log:         scopedLog,
	}
}

// Scan identifies harvesting opportunities for an account as of now,
// ordered by score descending, and limited to the configured maximum.
func (s *Service) Scan(ctx context.Context, accountID int64) ([]Opportunity, error) {
	asOf := time.Now().UTC()

	lots, err := s.loadLots(accountID)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, nil
	}

	history, err := s.loadHouseholdTransactionHistory(accountID)
	if err != nil {
		return nil, err
	}

	prices, err := s.loadCurrentPrices(lots)
	if err != nil {
		return nil, err
	}

	var opportunities []Opportunity
	for _, lot := range lots {
		price, ok := prices[lot.SecurityID]
		if !ok || price <= 0 {
			continue
		}

		loss := UnrealizedLoss(lot, price)
		lossFloat, _ := loss.Float64()
		if lossFloat >= 0 || -lossFloat < s.cfg.MinTaxLossThreshold {
			continue
		}

		longTerm := IsLongTerm(lot, asOf, s.cfg.LongTermHoldingDays)
		benefit := TaxBenefit(loss, longTerm, s.cfg.ShortTermTaxRate, s.cfg.LongTermTaxRate)
		violation := s.detector.Violates(lot.Symbol, asOf, history)

		replacementID, replacementSymbol, replacementScore, ranked := s.findReplacementFor(lot)

		opp := Opportunity{
			AccountID:             accountID,
			Lot:                   lot,
			CurrentPrice:          decimal.NewFromFloat(price),
			UnrealizedLoss:        loss,
			IsLongTerm:            longTerm,
			TaxRate:               taxRate(longTerm, s.cfg),
			TaxBenefit:            benefit,
			WashSaleViolation:     violation,
			ReplacementSecurityID: replacementID,
			ReplacementSymbol:     replacementSymbol,
			ReplacementScore:      replacementScore,
		}
		opp.Score = Score(loss, benefit, violation, ranked)
		opportunities = append(opportunities, opp)
	}

	sort.Slice(opportunities, func(i, j int) bool { return opportunities[i].Score > opportunities[j].Score })

	if len(opportunities) > s.cfg.MaxHarvestOpportunities {
		opportunities = opportunities[:s.cfg.MaxHarvestOpportunities]
	}
	return opportunities, nil
}

func (s *Service) loadLots(accountID int64) ([]domain.TaxLot, error) {
	rows, err := s.accountDB.Query(
		`SELECT id, account_id, security_id, symbol, original_quantity, quantity, cost_basis, status, purchase_date
		 FROM tax_lots WHERE account_id = ? AND status = 'open'`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("load tax lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.TaxLot
	for rows.Next() {
		lot, purchaseDate, status, err := scanTaxLot(rows)
		if err != nil {
			return nil, err
		}
		lot.PurchaseDate, _ = time.Parse("2006-01-02", purchaseDate)
		lot.Status = parseLotStatus(status)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func scanTaxLot(row interface{ Scan(dest ...interface{}) error }) (domain.TaxLot, string, string, error) {
	var lot domain.TaxLot
	var purchaseDate, status string
	err := row.Scan(&lot.ID, &lot.AccountID, &lot.SecurityID, &lot.Symbol, &lot.OriginalQuantity, &lot.Quantity, &lot.CostBasis, &status, &purchaseDate)
	if err != nil {
		return lot, "", "", fmt.Errorf("scan tax lot: %w", err)
	}
	return lot, purchaseDate, status, nil
}

func parseLotStatus(s string) domain.LotStatus {
	if s == "closed" {
		return domain.LotStatusClosed
	}
	return domain.LotStatusOpen
}

// loadHouseholdTransactionHistory loads every transaction recorded against
// any account in the same household as accountID. Wash-sale exposure is a
// household-level rule: a loss sale in one account can be disallowed by a
// purchase of the same security in a sibling account.
func (s *Service) loadHouseholdTransactionHistory(accountID int64) ([]domain.Transaction, error) {
	rows, err := s.accountDB.Query(`
		SELECT t.account_id, t.security_id, t.symbol, t.side, t.quantity, t.price, t.date
		FROM transactions t
		INNER JOIN accounts a ON a.id = t.account_id
		WHERE a.household_id = (SELECT household_id FROM accounts WHERE id = ?)`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("load household transaction history: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var side, date string
		if err := rows.Scan(&tx.AccountID, &tx.SecurityID, &tx.Symbol, &side, &tx.Quantity, &tx.Price, &date); err != nil {
			return nil, fmt.Errorf("scan household transaction: %w", err)
		}
		tx.Date, _ = time.Parse("2006-01-02", date)
		if side == "sell" {
			tx.Side = domain.TransactionSideSell
		} else {
			tx.Side = domain.TransactionSideBuy
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Service) loadCurrentPrices(lots []domain.TaxLot) (map[int64]float64, error) {
	prices := make(map[int64]float64)
	ids := make(map[int64]bool)
	for _, l := range lots {
		ids[l.SecurityID] = true
	}

	rows, err := s.analyticsDB.Query(`
		SELECT p.security_id, p.close
		FROM prices p
		INNER JOIN (
			SELECT security_id, MAX(date) AS max_date FROM prices GROUP BY security_id
		) latest ON latest.security_id = p.security_id AND latest.max_date = p.date
	`)
	if err != nil {
		return nil, fmt.Errorf("load current prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var secID int64
		var price float64
		if err := rows.Scan(&secID, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		if ids[secID] {
			prices[secID] = price
		}
	}
	return prices, rows.Err()
}

// findReplacementFor looks up a correlated, similar security to swap into
// in place of the sold lot's security, to keep market exposure while
// realizing the tax loss. Returns an empty symbol when no candidate
// passes the correlation filter.
func (s *Service) findReplacementFor(lot domain.TaxLot) (int64, string, float64, []Candidate) {
	sold, err := s.loadSecurity(lot.SecurityID)
	if err != nil {
		return 0, "", 0, nil
	}

	candidates, err := s.loadCandidateSecurities(lot.SecurityID, sold.Sector)
	if err != nil || len(candidates) == 0 {
		return 0, "", 0, nil
	}

	soldReturns, err := s.loadReturns(lot.SecurityID)
	if err != nil {
		return 0, "", 0, nil
	}

	candidateReturns := make(map[int64][]float64, len(candidates))
	for _, c := range candidates {
		rets, err := s.loadReturns(c.ID)
		if err != nil {
			continue
		}
		candidateReturns[c.ID] = rets
	}

	ranked := RankReplacements(sold, "", soldReturns, candidates, nil, candidateReturns, s.cfg.ReplacementCorrelationMinimum)
	if len(ranked) == 0 {
		return 0, "", 0, nil
	}
	best := ranked[0]
	s.log.Debug().
		Str("sold_symbol", sold.Symbol).
		Str("replacement_symbol", best.Security.Symbol).
		Float64("sold_annualized_vol", formulas.AnnualizedVolatility(soldReturns)).
		Float64("replacement_annualized_vol", formulas.AnnualizedVolatility(candidateReturns[best.Security.ID])).
		Msg("selected replacement security")
	return best.Security.ID, best.Security.Symbol, best.Score, ranked
}

func (s *Service) loadSecurity(id int64) (domain.Security, error) {
	return s.securities.GetByID(id)
}

// loadCandidateSecurities returns active securities in the same sector as
// the sold security, excluding the sold security itself.
func (s *Service) loadCandidateSecurities(excludeID int64, sector string) ([]domain.Security, error) {
	return s.securities.ActiveInSector(excludeID, sector)
}

// loadReturns computes simple daily returns for a security over the
// configured replacement lookback window.
func (s *Service) loadReturns(securityID int64) ([]float64, error) {
	closes, err := s.securities.DailyCloses(securityID, s.cfg.ReplacementLookbackDays)
	if err != nil {
		return nil, err
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 0; i < len(closes)-1; i++ {
		if closes[i+1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i+1])/closes[i+1])
	}
	return returns, nil
}

func taxRate(longTerm bool, cfg *config.Config) decimal.Decimal {
	if longTerm {
		return decimal.NewFromFloat(cfg.LongTermTaxRate)
	}
	return decimal.NewFromFloat(cfg.ShortTermTaxRate)
}
