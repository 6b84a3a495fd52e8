package rebalancing

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taxaware/portfolio-engine/internal/database"
	"github.com/taxaware/portfolio-engine/internal/domain"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
)

// ComplianceContext carries the data applySell needs to recheck each sell
// against the household wash-sale window at execution time, independent of
// the earlier pre-trade scan.
type ComplianceContext struct {
	Detector *harvesting.WashSaleDetector
	History  []domain.Transaction
	AsOf     time.Time
}

// Execute applies a compliance-checked trade batch against the account
// store in a single transaction: each sell draws down (and, if exhausted,
// closes) its lot and records a sell transaction with its realized
// gain/loss, each buy inserts a new lot and records a buy transaction, and
// the event plus its trades are persisted last so a crash mid-batch never
// leaves a partially-recorded event.
func Execute(db *database.DB, accountID int64, month time.Time, trades []domain.RebalancingTrade, prices map[int64]float64, trackingError, taxBenefit float64, status domain.SolverStatus, compliance ComplianceContext) (*domain.RebalancingEvent, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin execution transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Sells run first so a wash-sale-disallowed loss is known before its
	// replacement buy opens a new lot, regardless of the trades' order in
	// the batch.
	disallowedBySecurity := make(map[int64]float64)
	for _, t := range trades {
		if t.Side != domain.TransactionSideSell {
			continue
		}
		disallowed, err := applySell(tx, t, prices[t.SecurityID], now, compliance)
		if err != nil {
			return nil, err
		}
		if disallowed > 0 {
			disallowedBySecurity[t.SecurityID] += disallowed
		}
	}
	for _, t := range trades {
		if t.Side != domain.TransactionSideBuy {
			continue
		}
		add := disallowedBySecurity[t.SecurityID]
		if err := applyBuy(tx, accountID, t, prices[t.SecurityID], now, add); err != nil {
			return nil, err
		}
		if add > 0 {
			delete(disallowedBySecurity, t.SecurityID)
		}
	}

	event := &domain.RebalancingEvent{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Month:         month,
		Status:        status,
		Trades:        trades,
		TrackingError: trackingError,
		TaxBenefit:    taxBenefit,
		CreatedAt:     now,
	}

	if _, err := tx.Exec(
		`INSERT INTO rebalancing_events (id, account_id, month, status, tracking_error, tax_benefit, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AccountID, event.Month.Format("2006-01-02"), event.Status.String(), event.TrackingError, event.TaxBenefit, event.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return nil, fmt.Errorf("insert rebalancing event: %w", err)
	}

	for _, t := range trades {
		if _, err := tx.Exec(
			`INSERT INTO rebalancing_trades (event_id, security_id, symbol, side, quantity, lot_id, type, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, t.SecurityID, t.Symbol, t.Side.String(), t.Quantity, nullableLotID(t.LotID), t.Type.String(), t.Reason,
		); err != nil {
			return nil, fmt.Errorf("insert rebalancing trade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execution transaction: %w", err)
	}
	return event, nil
}

// applySell draws down the sold lot, closes it once exhausted rather than
// deleting it, and records the sell with its realized gain/loss. A sell
// that trips the household wash-sale window (rechecked here, independent
// of the earlier pre-trade scan, since it may be stale by execution time)
// has its loss disallowed: realized_gain_loss is zeroed, wash_sale_flag is
// set, and the disallowed amount is returned so the caller can add it to
// the replacement lot's cost basis. Harvest sells are not rechecked here;
// only delta-driven sells are.
func applySell(tx *sql.Tx, t domain.RebalancingTrade, price float64, now time.Time, compliance ComplianceContext) (disallowedLoss float64, err error) {
	if t.LotID == 0 {
		return 0, nil
	}

	var remaining, costBasis float64
	var accountID, securityID int64
	row := tx.QueryRow(`SELECT quantity, cost_basis, account_id, security_id FROM tax_lots WHERE id = ?`, t.LotID)
	if err := row.Scan(&remaining, &costBasis, &accountID, &securityID); err != nil {
		return 0, fmt.Errorf("load lot %d for sell: %w", t.LotID, err)
	}

	realizedGainLoss := (price - costBasis) * t.Quantity

	washSaleFlag := false
	if t.Type != domain.TradeTypeHarvest && compliance.Detector != nil {
		washSaleFlag = compliance.Detector.Violates(t.Symbol, compliance.AsOf, compliance.History)
	}
	if washSaleFlag && realizedGainLoss < 0 {
		disallowedLoss = -realizedGainLoss
		realizedGainLoss = 0
	}

	remaining -= t.Quantity
	if remaining <= 1e-9 {
		if _, err := tx.Exec(`UPDATE tax_lots SET quantity = 0, status = 'closed' WHERE id = ?`, t.LotID); err != nil {
			return 0, fmt.Errorf("close exhausted lot %d: %w", t.LotID, err)
		}
	} else {
		if _, err := tx.Exec(`UPDATE tax_lots SET quantity = ? WHERE id = ?`, remaining, t.LotID); err != nil {
			return 0, fmt.Errorf("update lot %d quantity: %w", t.LotID, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO transactions (account_id, security_id, symbol, side, quantity, price, date, lot_id, realized_gain_loss, wash_sale_flag, disallowed_loss)
		 VALUES (?, ?, ?, 'sell', ?, ?, ?, ?, ?, ?, ?)`,
		accountID, securityID, t.Symbol, t.Quantity, price, now.Format("2006-01-02"), t.LotID, realizedGainLoss, boolToInt(washSaleFlag), disallowedLoss,
	)
	if err != nil {
		return 0, fmt.Errorf("record sell transaction: %w", err)
	}
	return disallowedLoss, nil
}

// applyBuy opens a new lot for the purchase. disallowedCostBasis, when
// non-zero, is the wash-sale-disallowed loss from the sell this buy
// replaces, added into the new lot's cost basis per share.
func applyBuy(tx *sql.Tx, accountID int64, t domain.RebalancingTrade, price float64, now time.Time, disallowedCostBasis float64) error {
	costBasisPerShare := price
	if t.Quantity > 0 {
		costBasisPerShare = (price*t.Quantity + disallowedCostBasis) / t.Quantity
	}

	result, err := tx.Exec(
		`INSERT INTO tax_lots (account_id, security_id, symbol, original_quantity, quantity, cost_basis, status, purchase_date) VALUES (?, ?, ?, ?, ?, ?, 'open', ?)`,
		accountID, t.SecurityID, t.Symbol, t.Quantity, t.Quantity, costBasisPerShare, now.Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("insert new lot for buy: %w", err)
	}
	lotID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read new lot id: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO transactions (account_id, security_id, symbol, side, quantity, price, date, lot_id) VALUES (?, ?, ?, 'buy', ?, ?, ?, ?)`,
		accountID, t.SecurityID, t.Symbol, t.Quantity, price, now.Format("2006-01-02"), lotID,
	)
	if err != nil {
		return fmt.Errorf("record buy transaction: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableLotID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
