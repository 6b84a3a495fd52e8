package rebalancing

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/config"
	"github.com/taxaware/portfolio-engine/internal/database"
	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
	"github.com/taxaware/portfolio-engine/internal/modules/optimization"
)

// CalculateMinTradeAmount finds the trade size below which transaction
// costs eat more than maxCostRatio of the trade's value, solving
// (fixed + trade*percent) / trade = maxCostRatio for trade.
func CalculateMinTradeAmount(transactionCostFixed, transactionCostPercent, maxCostRatio float64) float64 {
	denominator := maxCostRatio - transactionCostPercent
	if denominator <= 0 {
		return 1000.0
	}
	return transactionCostFixed / denominator
}

// Service orchestrates one account's rebalance cycle: evaluate triggers,
// scan for harvesting opportunities, solve the optimizer for target
// weights, generate trades with harvest overrides, run compliance checks
// and execute the accepted batch.
type Service struct {
	accountDB       *sql.DB
	analyticsDB     *sql.DB
	accountDBHandle *database.DB
	harvester       *harvesting.Service
	optimizer       *optimization.Optimizer
	cfg             *config.Config
	log             zerolog.Logger
}

// NewService creates a new rebalancing service.
func NewService(
	accountDB, analyticsDB *sql.DB,
	accountDBHandle *database.DB,
	harvester *harvesting.Service,
	optimizer *optimization.Optimizer,
	cfg *config.Config,
	log zerolog.Logger,
) *Service {
	_ = InitSchema(accountDB)
	return &Service{
		accountDB:       accountDB,
		analyticsDB:     analyticsDB,
		accountDBHandle: accountDBHandle,
		harvester:       harvester,
		optimizer:       optimizer,
		cfg:             cfg,
		log:             log.With().Str("component", "rebalancing").Logger(),
	}
}

// RebalanceAccount runs one full rebalance cycle for an account. It first
// evaluates the triggers (drift past the tracking error threshold, or an
// available harvest benefit over the minimum); when none fires it records a
// skipped event with no trades and stops there.
func (s *Service) RebalanceAccount(ctx context.Context, accountID int64) (*domain.RebalancingEvent, error) {
	month := time.Date(time.Now().UTC().Year(), time.Now().UTC().Month(), 1, 0, 0, 0, 0, time.UTC)

	account, err := s.loadAccount(accountID)
	if err != nil {
		return nil, err
	}

	lots, err := s.loadLots(accountID)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, domain.NewEngineError(domain.ErrDataUnavailable, fmt.Sprintf("account %d has no tax lots to rebalance", accountID), nil)
	}

	securityIDs, symbols, lotsBySecurity := groupLots(lots)

	prices, err := s.loadPrices(securityIDs)
	if err != nil {
		return nil, err
	}

	currentWeights, portfolioValue := currentWeightVector(securityIDs, lotsBySecurity, prices)

	opportunities, err := s.harvester.Scan(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("scan harvest opportunities: %w", err)
	}
	var harvestBenefitTotal float64
	for _, o := range opportunities {
		benefit, _ := o.TaxBenefit.Float64()
		harvestBenefitTotal += benefit
	}

	riskModel, err := optimization.LoadRiskModel(s.analyticsDB, month, securityIDs, s.cfg.SmoothSpecificRisk)
	if err != nil {
		return nil, fmt.Errorf("load risk model: %w", err)
	}
	benchWeights, err := optimization.BenchmarkWeights(s.analyticsDB, account.BenchmarkID, month, securityIDs)
	if err != nil {
		return nil, fmt.Errorf("load benchmark weights: %w", err)
	}
	active := make([]float64, len(securityIDs))
	for i := range active {
		active[i] = currentWeights[i] - benchWeights[i]
	}
	currentTrackingError := quadForm(riskModel.Sigma, active)

	trigger := EvaluateTriggers(TriggerInputs{
		TrackingError:           currentTrackingError,
		TrackingErrorThreshold:  s.cfg.TrackingErrorThreshold,
		HarvestBenefitAvailable: harvestBenefitTotal,
		MinHarvestBenefit:       s.cfg.MinTaxLossThreshold,
		Scheduled:               true,
	})
	if !trigger.ShouldRebalance {
		s.log.Info().Int64("account_id", accountID).Msg("rebalance skipped: no drift or harvestable loss")
		event, err := Execute(s.accountDBHandle, accountID, month, nil, prices, currentTrackingError, harvestBenefitTotal, domain.SolverStatusSkipped, ComplianceContext{})
		if err != nil {
			return nil, fmt.Errorf("record skipped rebalance: %w", err)
		}
		return event, nil
	}
	s.log.Info().Int64("account_id", accountID).Str("trigger", trigger.Reason.String()).Msg("rebalance triggered")

	taxBenefitPerUnit := make([]float64, len(securityIDs))
	gainPenaltyPerUnit := make([]float64, len(securityIDs))
	indexBySecurity := make(map[int64]int, len(securityIDs))
	for i, id := range securityIDs {
		indexBySecurity[id] = i
	}
	topOpportunities := selectTopOpportunities(opportunities, s.cfg.MaxHarvestOpportunities)
	for _, o := range topOpportunities {
		if i, ok := indexBySecurity[o.Lot.SecurityID]; ok && portfolioValue > 0 {
			benefit, _ := o.TaxBenefit.Float64()
			taxBenefitPerUnit[i] += benefit / portfolioValue
		}
	}

	result, err := s.optimizer.Optimize(ctx, optimization.Request{
		Month:              month,
		BenchmarkID:        account.BenchmarkID,
		SecurityIDs:        securityIDs,
		Symbols:            symbols,
		CurrentWeights:     currentWeights,
		TaxBenefitPerUnit:  taxBenefitPerUnit,
		GainPenaltyPerUnit: gainPenaltyPerUnit,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	selector := harvesting.NewLotSelector(s.cfg.LotSelectionStrategy, s.cfg.LongTermHoldingDays, func(lot domain.TaxLot) int {
		return lot.HoldingPeriodDays(time.Now().UTC())
	})

	trades := GenerateTrades(TradeGenInputs{
		SecurityIDs:      securityIDs,
		Symbols:          symbols,
		CurrentWeights:   currentWeights,
		TargetWeights:    result.TargetWeights,
		Prices:           pricesBySecurity(securityIDs, prices),
		PortfolioValue:   portfolioValue,
		LotsBySecurity:   lotsBySecurity,
		Selector:         selector,
		HarvestOverrides: topOpportunities,
	})

	history, err := s.loadHouseholdTransactionHistory(accountID)
	if err != nil {
		return nil, err
	}
	detector := harvesting.NewWashSaleDetector(s.cfg.WashSaleWindowDays)
	asOf := time.Now().UTC()
	priceBySecurityID := make(map[int64]float64, len(securityIDs))
	for i, id := range securityIDs {
		priceBySecurityID[id] = prices[id]
	}
	violations := CheckTrades(trades, lotsBySecurity, detector, history, asOf, priceBySecurityID)
	for _, v := range violations {
		s.log.Warn().Int64("account_id", accountID).Str("severity", v.Severity).Str("violation", v.Message).Msg("compliance check")
	}
	if HasErrors(violations) {
		return nil, domain.NewEngineError(domain.ErrComplianceRejection, "rebalance batch failed compliance checks", nil)
	}

	compliance := ComplianceContext{Detector: detector, History: history, AsOf: asOf}
	event, err := Execute(s.accountDBHandle, accountID, month, trades, priceBySecurityID, result.TrackingError, harvestBenefitTotal, result.Status, compliance)
	if err != nil {
		return nil, fmt.Errorf("execute rebalance: %w", err)
	}
	return event, nil
}

func (s *Service) loadAccount(accountID int64) (domain.Account, error) {
	var a domain.Account
	row := s.accountDB.QueryRow(`SELECT id, household_id, name, benchmark_id FROM accounts WHERE id = ?`, accountID)
	if err := row.Scan(&a.ID, &a.HouseholdID, &a.Name, &a.BenchmarkID); err != nil {
		return a, fmt.Errorf("load account %d: %w", accountID, err)
	}
	return a, nil
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
// any account in the same household as accountID, so the compliance check
// catches a wash sale created by a trade in a sibling account.
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

func (s *Service) loadPrices(securityIDs []int64) (map[int64]float64, error) {
	prices := make(map[int64]float64, len(securityIDs))
	wanted := make(map[int64]bool, len(securityIDs))
	for _, id := range securityIDs {
		wanted[id] = true
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
		var id int64
		var price float64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		if wanted[id] {
			prices[id] = price
		}
	}
	return prices, rows.Err()
}

// groupLots returns the distinct, sorted security IDs present in lots,
// their symbols in the same order, and the lots grouped by security.
func groupLots(lots []domain.TaxLot) ([]int64, []string, map[int64][]domain.TaxLot) {
	bySecurity := make(map[int64][]domain.TaxLot)
	symbolBySecurity := make(map[int64]string)
	for _, l := range lots {
		bySecurity[l.SecurityID] = append(bySecurity[l.SecurityID], l)
		symbolBySecurity[l.SecurityID] = l.Symbol
	}

	ids := make([]int64, 0, len(bySecurity))
	for id := range bySecurity {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	symbols := make([]string, len(ids))
	for i, id := range ids {
		symbols[i] = symbolBySecurity[id]
	}
	return ids, symbols, bySecurity
}

func currentWeightVector(securityIDs []int64, lotsBySecurity map[int64][]domain.TaxLot, prices map[int64]float64) ([]float64, float64) {
	values := make([]float64, len(securityIDs))
	var total float64
	for i, id := range securityIDs {
		var qty float64
		for _, l := range lotsBySecurity[id] {
			qty += l.Quantity
		}
		values[i] = qty * prices[id]
		total += values[i]
	}
	weights := make([]float64, len(securityIDs))
	if total > 0 {
		for i := range values {
			weights[i] = values[i] / total
		}
	}
	return weights, total
}

func pricesBySecurity(securityIDs []int64, prices map[int64]float64) []float64 {
	out := make([]float64, len(securityIDs))
	for i, id := range securityIDs {
		out[i] = prices[id]
	}
	return out
}

// selectTopOpportunities returns the top-N opportunities, excluding any
// that would violate the wash-sale rule, already sorted by score by the
// harvesting scan.
func selectTopOpportunities(opportunities []harvesting.Opportunity, n int) []harvesting.Opportunity {
	var clean []harvesting.Opportunity
	for _, o := range opportunities {
		if !o.WashSaleViolation {
			clean = append(clean, o)
		}
	}
	if len(clean) > n {
		clean = clean[:n]
	}
	return clean
}
