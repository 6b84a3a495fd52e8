package optimization

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// fallbackSpecificVariance is the diagonal variance assigned to every
// security when no risk model has been built for the requested month. It
// keeps the optimizer runnable (a flat, uncorrelated risk estimate) rather
// than failing the rebalance outright.
const fallbackSpecificVariance = 1.0

// RiskModel is the factor-structured covariance input to the optimizer:
// an n-security by k-factor exposure matrix, a k-by-k factor covariance,
// and an n-length specific variance vector. Sigma is the assembled
// n-by-n asset covariance X*F*X' + diag(D).
type RiskModel struct {
	SecurityIDs []int64
	UsedFactors bool // false when no risk model data existed and the diagonal fallback was used
	Sigma       *mat.Dense
}

// LoadRiskModel assembles the asset covariance for the given securities and
// month. If no exposures, factor covariance or specific variance rows exist
// for the month, it falls back to a diagonal-only covariance built from
// fallbackSpecificVariance, the same contract a missing upstream risk model
// build leaves the optimizer with.
func LoadRiskModel(db *sql.DB, month time.Time, securityIDs []int64, smoothSpecificRisk bool) (*RiskModel, error) {
	n := len(securityIDs)
	rm := &RiskModel{SecurityIDs: securityIDs}
	if n == 0 {
		rm.Sigma = mat.NewDense(0, 0, nil)
		return rm, nil
	}

	idIndex := make(map[int64]int, n)
	for i, id := range securityIDs {
		idIndex[id] = i
	}

	monthStr := month.Format("2006-01-02")

	factorIDs, factorIndex, err := loadFactorOrder(db)
	if err != nil {
		return nil, err
	}
	k := len(factorIDs)

	exposures := mat.NewDense(n, k, nil)
	exposureRows, err := queryExposures(db, monthStr, securityIDs)
	if err != nil {
		return nil, err
	}
	for _, e := range exposureRows {
		si, ok := idIndex[e.securityID]
		if !ok {
			continue
		}
		fi, ok := factorIndex[e.factorID]
		if !ok {
			continue
		}
		exposures.Set(si, fi, e.value)
	}

	factorCov := mat.NewSymDense(k, nil)
	covRows, err := queryFactorCovariance(db, monthStr)
	if err != nil {
		return nil, err
	}
	for _, c := range covRows {
		i, ok1 := factorIndex[c.factorID1]
		j, ok2 := factorIndex[c.factorID2]
		if !ok1 || !ok2 {
			continue
		}
		factorCov.SetSym(i, j, c.value)
	}

	specific := make([]float64, n)
	for i := range specific {
		specific[i] = fallbackSpecificVariance
	}
	specRows, err := querySpecificVariance(db, monthStr, securityIDs)
	if err != nil {
		return nil, err
	}
	for _, s := range specRows {
		si, ok := idIndex[s.securityID]
		if !ok {
			continue
		}
		v := s.raw
		if smoothSpecificRisk {
			v = s.shrunk
		}
		if v > 0 {
			specific[si] = v
		}
	}

	rm.UsedFactors = k > 0 && len(exposureRows) > 0 && len(covRows) > 0
	rm.Sigma = assembleCovariance(exposures, factorCov, specific)
	return rm, nil
}

// assembleCovariance computes X*F*X' + diag(D).
func assembleCovariance(exposures *mat.Dense, factorCov *mat.SymDense, specific []float64) *mat.Dense {
	n, k := exposures.Dims()
	sigma := mat.NewDense(n, n, nil)
	if k > 0 {
		var xf mat.Dense
		xf.Mul(exposures, factorCov)
		sigma.Mul(&xf, exposures.T())
	}
	for i := 0; i < n; i++ {
		sigma.Set(i, i, sigma.At(i, i)+specific[i])
	}
	return sigma
}

func loadFactorOrder(db *sql.DB) ([]int64, map[int64]int, error) {
	rows, err := db.Query(`SELECT id FROM factors ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("load factor order: %w", err)
	}
	defer rows.Close()

	var ids []int64
	index := make(map[int64]int)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("scan factor id: %w", err)
		}
		index[id] = len(ids)
		ids = append(ids, id)
	}
	return ids, index, rows.Err()
}

type exposureRow struct {
	securityID int64
	factorID   int64
	value      float64
}

func queryExposures(db *sql.DB, month string, securityIDs []int64) ([]exposureRow, error) {
	placeholders, args := inClause(securityIDs)
	args = append([]interface{}{month}, args...)
	query := fmt.Sprintf(`SELECT security_id, factor_id, value FROM exposures WHERE month = ? AND security_id IN (%s)`, placeholders)
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load exposures: %w", err)
	}
	defer rows.Close()

	var out []exposureRow
	for rows.Next() {
		var e exposureRow
		if err := rows.Scan(&e.securityID, &e.factorID, &e.value); err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type covRow struct {
	factorID1 int64
	factorID2 int64
	value     float64
}

func queryFactorCovariance(db *sql.DB, month string) ([]covRow, error) {
	rows, err := db.Query(`SELECT factor_id_1, factor_id_2, value FROM factor_covariance WHERE month = ?`, month)
	if err != nil {
		return nil, fmt.Errorf("load factor covariance: %w", err)
	}
	defer rows.Close()

	var out []covRow
	for rows.Next() {
		var c covRow
		if err := rows.Scan(&c.factorID1, &c.factorID2, &c.value); err != nil {
			return nil, fmt.Errorf("scan factor covariance: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type specificRow struct {
	securityID int64
	raw        float64
	shrunk     float64
}

func querySpecificVariance(db *sql.DB, month string, securityIDs []int64) ([]specificRow, error) {
	placeholders, args := inClause(securityIDs)
	args = append([]interface{}{month}, args...)
	query := fmt.Sprintf(`SELECT security_id, raw, shrunk FROM specific_variance WHERE month = ? AND security_id IN (%s)`, placeholders)
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load specific variance: %w", err)
	}
	defer rows.Close()

	var out []specificRow
	for rows.Next() {
		var s specificRow
		if err := rows.Scan(&s.securityID, &s.raw, &s.shrunk); err != nil {
			return nil, fmt.Errorf("scan specific variance: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BenchmarkWeights loads a benchmark's constituent weights for a month,
// aligned to securityIDs order, defaulting to 0 for securities not in the
// benchmark.
func BenchmarkWeights(db *sql.DB, benchmarkID int64, month time.Time, securityIDs []int64) ([]float64, error) {
	idIndex := make(map[int64]int, len(securityIDs))
	for i, id := range securityIDs {
		idIndex[id] = i
	}
	weights := make([]float64, len(securityIDs))

	rows, err := db.Query(
		`SELECT security_id, weight FROM benchmark_constituents WHERE benchmark_id = ? AND month = ?`,
		benchmarkID, month.Format("2006-01"),
	)
	if err != nil {
		return nil, fmt.Errorf("load benchmark weights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var w float64
		if err := rows.Scan(&id, &w); err != nil {
			return nil, fmt.Errorf("scan benchmark constituent: %w", err)
		}
		if i, ok := idIndex[id]; ok {
			weights[i] = w
		}
	}
	return weights, rows.Err()
}

func inClause(ids []int64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
