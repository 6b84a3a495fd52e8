package riskmodel

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// Repository reads raw analytics inputs and persists the monthly risk
// model outputs: exposures, factor returns, factor covariance, specific
// variance and regression diagnostics.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new risk model repository over the analytics store.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "riskmodel").Logger()}
}

// Factors loads the full closed factor set (style, industry, country).
func (r *Repository) Factors() ([]domain.Factor, error) {
	rows, err := r.db.Query(`SELECT id, name, kind FROM factors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load factors: %w", err)
	}
	defer rows.Close()

	var factors []domain.Factor
	for rows.Next() {
		var f domain.Factor
		var kind string
		if err := rows.Scan(&f.ID, &f.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan factor: %w", err)
		}
		f.Kind = parseFactorKind(kind)
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

func parseFactorKind(s string) domain.FactorKind {
	switch s {
	case "industry":
		return domain.FactorKindIndustry
	case "country":
		return domain.FactorKindCountry
	default:
		return domain.FactorKindStyle
	}
}

func factorKindString(k domain.FactorKind) string {
	switch k {
	case domain.FactorKindIndustry:
		return "industry"
	case domain.FactorKindCountry:
		return "country"
	default:
		return "style"
	}
}

// ClassificationLabels loads each security's sector/industry/sub-industry/
// country labels, the basis for the one-hot columns classification.go
// builds.
func (r *Repository) ClassificationLabels(securityIDs []int64) (map[int64]ClassificationLabels, error) {
	labels := make(map[int64]ClassificationLabels, len(securityIDs))
	rows, err := r.db.Query(`SELECT id, sector, industry, sub_industry, country FROM securities`)
	if err != nil {
		return nil, fmt.Errorf("load classification labels: %w", err)
	}
	defer rows.Close()

	wanted := make(map[int64]bool, len(securityIDs))
	for _, id := range securityIDs {
		wanted[id] = true
	}
	for rows.Next() {
		var id int64
		var l ClassificationLabels
		if err := rows.Scan(&id, &l.Sector, &l.Industry, &l.SubIndustry, &l.Country); err != nil {
			return nil, fmt.Errorf("scan classification label: %w", err)
		}
		if wanted[id] {
			labels[id] = l
		}
	}
	return labels, rows.Err()
}

// EnsureStyleAndClassificationFactors inserts any style or one-hot
// classification factor the current cross-section needs but the factors
// table does not yet carry, then returns the full ordered factor list:
// the ten style factors first, then industry one-hot columns, then
// country one-hot columns, matching the column order ComputeStyleFactors
// and BuildClassificationExposures produce. It also returns the style
// factor count, the boundary Orthogonalize must not cross.
func (r *Repository) EnsureStyleAndClassificationFactors(labels map[int64]ClassificationLabels) (factors []domain.Factor, styleFactorCount int, err error) {
	industryNames, countryNames := ClassificationFactorNames(labels)

	insert, err := r.db.Prepare(`INSERT OR IGNORE INTO factors (name, kind) VALUES (?, ?)`)
	if err != nil {
		return nil, 0, fmt.Errorf("prepare factor insert: %w", err)
	}
	defer insert.Close()

	for _, name := range StyleFactorNames {
		if _, err := insert.Exec(name, factorKindString(domain.FactorKindStyle)); err != nil {
			return nil, 0, fmt.Errorf("ensure style factor %s: %w", name, err)
		}
	}
	for _, name := range industryNames {
		if _, err := insert.Exec(name, factorKindString(domain.FactorKindIndustry)); err != nil {
			return nil, 0, fmt.Errorf("ensure industry factor %s: %w", name, err)
		}
	}
	for _, name := range countryNames {
		if _, err := insert.Exec(name, factorKindString(domain.FactorKindCountry)); err != nil {
			return nil, 0, fmt.Errorf("ensure country factor %s: %w", name, err)
		}
	}

	all, err := r.Factors()
	if err != nil {
		return nil, 0, err
	}
	byName := make(map[string]domain.Factor, len(all))
	for _, f := range all {
		byName[f.Name] = f
	}

	ordered := make([]domain.Factor, 0, len(StyleFactorNames)+len(industryNames)+len(countryNames))
	for _, name := range StyleFactorNames {
		ordered = append(ordered, byName[name])
	}
	for _, name := range industryNames {
		ordered = append(ordered, byName[name])
	}
	for _, name := range countryNames {
		ordered = append(ordered, byName[name])
	}
	return ordered, len(StyleFactorNames), nil
}

const styleFactorLookbackMonths = 60

// LoadStyleInputs assembles the raw price, return and fundamental data the
// ten style factor calculators in factors.go need for one month, for every
// active security.
func (r *Repository) LoadStyleInputs(month time.Time, securityIDs []int64) (*StyleInputs, error) {
	marketReturns, err := r.trailingIndexReturns("market_index_returns", month, styleFactorLookbackMonths)
	if err != nil {
		return nil, err
	}
	currencyReturns, err := r.trailingIndexReturns("currency_index_returns", month, styleFactorLookbackMonths)
	if err != nil {
		return nil, err
	}

	in := &StyleInputs{
		BySecurity:      make(map[int64]SecurityStyleInputs, len(securityIDs)),
		MarketReturns:   marketReturns,
		CurrencyReturns: currencyReturns,
	}

	for _, id := range securityIDs {
		sec := SecurityStyleInputs{}

		if cap, ok, err := r.marketCap(id, month); err != nil {
			return nil, err
		} else if ok {
			sec.MarketCap = cap
			sec.HasMarketCap = true
		}

		returns, err := r.trailingStockReturns(id, month, styleFactorLookbackMonths)
		if err != nil {
			return nil, err
		}
		sec.MonthlyReturns = returns

		fundamentals, ok, err := r.latestFundamentals(id, month)
		if err != nil {
			return nil, err
		}
		if ok {
			sec.HasFundamentals = true
			sec.EarningsTTM = fundamentals.earningsTTM
			sec.BookValue = fundamentals.bookValue
			sec.PriorSales = fundamentals.priorSales
			sec.Sales = fundamentals.sales
			sec.ShortTermDebt = fundamentals.shortTermDebt
			sec.LongTermDebt = fundamentals.longTermDebt
			sec.TotalAssets = fundamentals.totalAssets
			sec.DividendsTTM = fundamentals.dividendsTTM
		}

		quarterlyEarnings, err := r.trailingQuarterlyEarnings(id, month, earningsVariabilityWindow)
		if err != nil {
			return nil, err
		}
		sec.QuarterlyEarnings = quarterlyEarnings

		in.BySecurity[id] = sec
	}

	return in, nil
}

// marketCap reads a security's month-end market capitalization from the
// weight gonum WLS regression already uses: sqrt_market_cap squared.
func (r *Repository) marketCap(securityID int64, month time.Time) (float64, bool, error) {
	var sqrtCap sql.NullFloat64
	row := r.db.QueryRow(
		`SELECT sqrt_market_cap FROM monthly_stock_returns WHERE security_id = ? AND month = ?`,
		securityID, month.Format("2006-01-02"),
	)
	if err := row.Scan(&sqrtCap); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load market cap for security %d: %w", securityID, err)
	}
	if !sqrtCap.Valid || sqrtCap.Float64 <= 0 {
		return 0, false, nil
	}
	return sqrtCap.Float64 * sqrtCap.Float64, true, nil
}

// trailingStockReturns returns up to nMonths of a security's monthly
// returns strictly before month, oldest first.
func (r *Repository) trailingStockReturns(securityID int64, month time.Time, nMonths int) ([]float64, error) {
	rows, err := r.db.Query(
		`SELECT monthly_return FROM monthly_stock_returns WHERE security_id = ? AND month < ? ORDER BY month DESC LIMIT ?`,
		securityID, month.Format("2006-01-02"), nMonths,
	)
	if err != nil {
		return nil, fmt.Errorf("load trailing returns for security %d: %w", securityID, err)
	}
	defer rows.Close()

	var reversed []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan trailing return: %w", err)
		}
		reversed = append(reversed, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reverseFloat64(reversed), nil
}

// trailingIndexReturns returns up to nMonths of a benchmark or currency
// index's monthly returns strictly before month, oldest first. table is
// always one of the two literal index-return table names below, never
// caller input.
func (r *Repository) trailingIndexReturns(table string, month time.Time, nMonths int) ([]float64, error) {
	var query string
	switch table {
	case "market_index_returns":
		query = `SELECT return FROM market_index_returns WHERE month < ? ORDER BY month DESC LIMIT ?`
	case "currency_index_returns":
		query = `SELECT return FROM currency_index_returns WHERE month < ? ORDER BY month DESC LIMIT ?`
	default:
		return nil, fmt.Errorf("unknown index return table %q", table)
	}

	rows, err := r.db.Query(query, month.Format("2006-01-02"), nMonths)
	if err != nil {
		return nil, fmt.Errorf("load trailing index returns from %s: %w", table, err)
	}
	defer rows.Close()

	var reversed []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan index return: %w", err)
		}
		reversed = append(reversed, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reverseFloat64(reversed), nil
}

func reverseFloat64(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[len(v)-1-i] = x
	}
	return out
}

type fundamentalsRow struct {
	earningsTTM   float64
	bookValue     float64
	priorSales    float64
	sales         float64
	shortTermDebt float64
	longTermDebt  float64
	totalAssets   float64
	dividendsTTM  float64
}

// latestFundamentals loads the most recent fiscal year's reported
// fundamentals as of month, plus the prior year's sales for the Growth
// factor.
func (r *Repository) latestFundamentals(securityID int64, month time.Time) (fundamentalsRow, bool, error) {
	rows, err := r.db.Query(
		`SELECT fiscal_year, earnings_ttm, book_value, sales, short_term_debt, long_term_debt, total_assets, dividends_ttm
		 FROM fundamentals_annual WHERE security_id = ? AND fiscal_year <= ? ORDER BY fiscal_year DESC LIMIT 2`,
		securityID, month.Year(),
	)
	if err != nil {
		return fundamentalsRow{}, false, fmt.Errorf("load fundamentals for security %d: %w", securityID, err)
	}
	defer rows.Close()

	var latest, prior fundamentalsRow
	var havePrior bool
	n := 0
	for rows.Next() {
		var year int
		var f fundamentalsRow
		if err := rows.Scan(&year, &f.earningsTTM, &f.bookValue, &f.sales, &f.shortTermDebt, &f.longTermDebt, &f.totalAssets, &f.dividendsTTM); err != nil {
			return fundamentalsRow{}, false, fmt.Errorf("scan fundamentals: %w", err)
		}
		if n == 0 {
			latest = f
		} else {
			prior = f
			havePrior = true
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fundamentalsRow{}, false, err
	}
	if n == 0 {
		return fundamentalsRow{}, false, nil
	}
	if havePrior {
		latest.priorSales = prior.sales
	}
	return latest, true, nil
}

// trailingQuarterlyEarnings returns up to nQuarters of a security's reported
// quarterly earnings, oldest first, for the Earnings Yield and Earnings
// Variability factors.
func (r *Repository) trailingQuarterlyEarnings(securityID int64, month time.Time, nQuarters int) ([]float64, error) {
	currentQuarter := (int(month.Month())-1)/3 + 1
	cutoff := fmt.Sprintf("%04d-Q%d", month.Year(), currentQuarter)
	rows, err := r.db.Query(
		`SELECT earnings FROM fundamentals_quarterly WHERE security_id = ? AND fiscal_quarter < ? ORDER BY fiscal_quarter DESC LIMIT ?`,
		securityID, cutoff, nQuarters,
	)
	if err != nil {
		return nil, fmt.Errorf("load quarterly earnings for security %d: %w", securityID, err)
	}
	defer rows.Close()

	var reversed []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan quarterly earnings: %w", err)
		}
		reversed = append(reversed, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reverseFloat64(reversed), nil
}

var nan = func() float64 {
	var zero float64
	return zero / zero // NaN, without pulling in math just for this
}()

// SaveExposures upserts the final (imputed, orthogonalized) exposure matrix.
func (r *Repository) SaveExposures(month time.Time, m *ExposureMatrix, factors []domain.Factor) error {
	stmt, err := r.db.Prepare(`
		INSERT INTO exposures (security_id, factor_id, month, value, imputed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(security_id, factor_id, month) DO UPDATE SET value = excluded.value, imputed = excluded.imputed
	`)
	if err != nil {
		return fmt.Errorf("prepare exposure upsert: %w", err)
	}
	defer stmt.Close()

	monthStr := month.Format("2006-01-02")
	for i, secID := range m.SecurityIDs {
		for j, f := range factors {
			imputed := 0
			if m.Imputed != nil && m.Imputed[i][j] {
				imputed = 1
			}
			if _, err := stmt.Exec(secID, f.ID, monthStr, m.Values[i][j], imputed); err != nil {
				return fmt.Errorf("upsert exposure: %w", err)
			}
		}
	}
	return nil
}

// SaveFactorReturns upserts one month's estimated factor returns.
func (r *Repository) SaveFactorReturns(month time.Time, factors []domain.Factor, returns []float64) error {
	stmt, err := r.db.Prepare(`
		INSERT INTO factor_returns (factor_id, month, return)
		VALUES (?, ?, ?)
		ON CONFLICT(factor_id, month) DO UPDATE SET return = excluded.return
	`)
	if err != nil {
		return fmt.Errorf("prepare factor return upsert: %w", err)
	}
	defer stmt.Close()

	monthStr := month.Format("2006-01-02")
	for j, f := range factors {
		if _, err := stmt.Exec(f.ID, monthStr, returns[j]); err != nil {
			return fmt.Errorf("upsert factor return: %w", err)
		}
	}
	return nil
}

// FactorReturnHistory loads the trailing nMonths of factor returns, most
// recent last, laid out months x factors, for covariance estimation.
func (r *Repository) FactorReturnHistory(asOf time.Time, factors []domain.Factor, nMonths int) ([][]float64, error) {
	start := asOf.AddDate(0, -nMonths, 0)
	factorIdx := make(map[int64]int, len(factors))
	for j, f := range factors {
		factorIdx[f.ID] = j
	}

	rows, err := r.db.Query(
		`SELECT factor_id, month, return FROM factor_returns WHERE month > ? AND month <= ? ORDER BY month`,
		start.Format("2006-01-02"), asOf.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("load factor return history: %w", err)
	}
	defer rows.Close()

	monthIdx := make(map[string]int)
	var history [][]float64
	for rows.Next() {
		var factorID int64
		var monthStr string
		var ret float64
		if err := rows.Scan(&factorID, &monthStr, &ret); err != nil {
			return nil, fmt.Errorf("scan factor return: %w", err)
		}
		j, ok := factorIdx[factorID]
		if !ok {
			continue
		}
		mi, ok := monthIdx[monthStr]
		if !ok {
			mi = len(history)
			monthIdx[monthStr] = mi
			history = append(history, make([]float64, len(factors)))
		}
		history[mi][j] = ret
	}
	return history, rows.Err()
}

// SaveFactorCovariance upserts the full factor covariance matrix for a month.
func (r *Repository) SaveFactorCovariance(month time.Time, factors []domain.Factor, covValue func(i, j int) float64) error {
	stmt, err := r.db.Prepare(`
		INSERT INTO factor_covariance (factor_id_1, factor_id_2, month, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(factor_id_1, factor_id_2, month) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("prepare covariance upsert: %w", err)
	}
	defer stmt.Close()

	monthStr := month.Format("2006-01-02")
	for a, fa := range factors {
		for b := a; b < len(factors); b++ {
			v := covValue(a, b)
			if _, err := stmt.Exec(fa.ID, factors[b].ID, monthStr, v); err != nil {
				return fmt.Errorf("upsert covariance cell: %w", err)
			}
		}
	}
	return nil
}

// SaveSpecificVariance upserts per-security specific variance for a month.
func (r *Repository) SaveSpecificVariance(month time.Time, securityIDs []int64, raw, shrunk []float64) error {
	stmt, err := r.db.Prepare(`
		INSERT INTO specific_variance (security_id, month, raw, shrunk)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(security_id, month) DO UPDATE SET raw = excluded.raw, shrunk = excluded.shrunk
	`)
	if err != nil {
		return fmt.Errorf("prepare specific variance upsert: %w", err)
	}
	defer stmt.Close()

	monthStr := month.Format("2006-01-02")
	for i, secID := range securityIDs {
		if _, err := stmt.Exec(secID, monthStr, raw[i], shrunk[i]); err != nil {
			return fmt.Errorf("upsert specific variance: %w", err)
		}
	}
	return nil
}

// SaveDiagnostics upserts the month's regression diagnostics row.
func (r *Repository) SaveDiagnostics(d domain.RegressionDiagnostics) error {
	_, err := r.db.Exec(`
		INSERT INTO regression_diagnostics (month, method, condition_number, alpha, r_squared, n_factors, n_stocks)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			method = excluded.method,
			condition_number = excluded.condition_number,
			alpha = excluded.alpha,
			r_squared = excluded.r_squared,
			n_factors = excluded.n_factors,
			n_stocks = excluded.n_stocks
	`, d.Month.Format("2006-01-02"), d.Method.String(), d.ConditionNumber, d.Alpha, d.RSquared, d.NFactors, d.NStocks)
	if err != nil {
		return fmt.Errorf("upsert diagnostics: %w", err)
	}
	return nil
}

// ActiveSecurityIDs loads the IDs of all securities eligible for the month's
// risk model build.
func (r *Repository) ActiveSecurityIDs() ([]int64, error) {
	rows, err := r.db.Query(`SELECT id FROM securities WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load active securities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan security id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MonthlyReturnsAndWeights loads each security's realized return for the
// month (used as the regression's dependent variable) and a market-cap
// derived weight (square root of cap, the standard Barra-style WLS weight).
func (r *Repository) MonthlyReturnsAndWeights(month time.Time, securityIDs []int64) (returns, weights []float64, err error) {
	returns = make([]float64, len(securityIDs))
	weights = make([]float64, len(securityIDs))

	idx := make(map[int64]int, len(securityIDs))
	for i, id := range securityIDs {
		idx[id] = i
		weights[i] = 1.0 // default equal weight if market cap unavailable
	}

	rows, err := r.db.Query(
		`SELECT security_id, monthly_return, sqrt_market_cap FROM monthly_stock_returns WHERE month = ?`,
		month.Format("2006-01-02"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("load monthly returns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var secID int64
		var ret, weight sql.NullFloat64
		if err := rows.Scan(&secID, &ret, &weight); err != nil {
			return nil, nil, fmt.Errorf("scan monthly return: %w", err)
		}
		i, ok := idx[secID]
		if !ok {
			continue
		}
		if ret.Valid {
			returns[i] = ret.Float64
		}
		if weight.Valid && weight.Float64 > 0 {
			weights[i] = weight.Float64
		}
	}
	return returns, weights, rows.Err()
}
