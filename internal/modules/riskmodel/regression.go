package riskmodel

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// conditionNumberThreshold triggers a switch from plain WLS to ridge.
const conditionNumberThreshold = 1e10

// tightAlphaThreshold triggers a tighter ridge penalty for severely
// ill-conditioned cross-sections.
const tightAlphaThreshold = 1e12

const (
	defaultAlpha = 1e-4
	tightAlpha   = 1e-2
)

// RegressionInput is one month's cross-sectional regression problem: stock
// returns explained by factor exposures, weighted by market-cap-derived weights.
type RegressionInput struct {
	Returns   []float64   // n stocks
	Exposures [][]float64 // n stocks x k factors
	Weights   []float64   // n stocks, typically sqrt(market cap)
}

// RegressionOutput is the estimated factor returns plus the diagnostics
// recorded alongside them.
type RegressionOutput struct {
	FactorReturns []float64
	Diagnostics   domain.RegressionDiagnostics
}

// RunCrossSectionalRegression estimates factor returns for a single month
// via weighted least squares, falling back to ridge regression when the
// cross-section is ill-conditioned, and to a pseudo-inverse solve when even
// ridge cannot produce a usable estimate.
func RunCrossSectionalRegression(in RegressionInput) (*RegressionOutput, error) {
	n := len(in.Returns)
	k := len(in.Exposures[0])

	X := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			X.Set(i, j, in.Exposures[i][j])
		}
	}
	y := mat.NewVecDense(n, in.Returns)
	W := mat.NewDiagDense(n, in.Weights)

	var XtW mat.Dense
	XtW.Mul(X.T(), W)

	var XtWX mat.Dense
	XtWX.Mul(&XtW, X)

	var XtWy mat.VecDense
	XtWy.MulVec(&XtW, y)

	condNum := mat.Cond(&XtWX, 2)

	var beta *mat.VecDense
	var method domain.RegressionMethod
	var alpha float64

	switch {
	case condNum < conditionNumberThreshold:
		method = domain.RegressionMethodWLS
		alpha = 0
		b, ok := solveLinearSystem(&XtWX, &XtWy)
		if ok {
			beta = b
		} else {
			method = domain.RegressionMethodRidge
		}
	default:
		method = domain.RegressionMethodRidge
	}

	if method == domain.RegressionMethodRidge {
		alpha = defaultAlpha
		if condNum > tightAlphaThreshold {
			alpha = tightAlpha
		}
		ridge := addRidgePenalty(&XtWX, alpha)
		b, ok := solveLinearSystem(ridge, &XtWy)
		if ok {
			beta = b
		} else {
			method = domain.RegressionMethodPseudoInverse
		}
	}

	if method == domain.RegressionMethodPseudoInverse {
		b, err := pseudoInverseSolve(&XtWX, &XtWy)
		if err != nil {
			return nil, domain.NewEngineError(domain.ErrNumericalDegeneracy, "pseudo-inverse solve failed", err)
		}
		beta = b
	}

	betaSlice := make([]float64, k)
	for i := 0; i < k; i++ {
		betaSlice[i] = beta.AtVec(i)
	}

	rSquared := weightedRSquared(X, y, W, beta)

	return &RegressionOutput{
		FactorReturns: betaSlice,
		Diagnostics: domain.RegressionDiagnostics{
			Method:          method,
			ConditionNumber: condNum,
			Alpha:           alpha,
			RSquared:        rSquared,
			NFactors:        k,
			NStocks:         n,
		},
	}, nil
}

// solveLinearSystem solves A x = b via Cholesky, returning ok=false if A is
// not positive definite (caller should fall back to ridge/pinv).
func solveLinearSystem(A *mat.Dense, b *mat.VecDense) (*mat.VecDense, bool) {
	rows, _ := A.Dims()
	sym := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			sym.SetSym(i, j, A.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, false
	}

	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return nil, false
	}
	return &x, true
}

// addRidgePenalty returns A + alpha*I.
func addRidgePenalty(A *mat.Dense, alpha float64) *mat.Dense {
	rows, cols := A.Dims()
	ridge := mat.NewDense(rows, cols, nil)
	ridge.Clone(A)
	for i := 0; i < rows; i++ {
		ridge.Set(i, i, ridge.At(i, i)+alpha)
	}
	return ridge
}

// pseudoInverseSolve solves A x = b using the Moore-Penrose pseudo-inverse,
// the last-resort fallback when even ridge regression hits a singular matrix.
func pseudoInverseSolve(A *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	var svd mat.SVD
	ok := svd.Factorize(A, mat.SVDFull)
	if !ok {
		return nil, errSVDFailed
	}
	var pinv mat.Dense
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	rows, cols := A.Dims()
	sigmaPlus := mat.NewDense(cols, rows, nil)
	for i, s := range values {
		if s > 1e-12 {
			sigmaPlus.Set(i, i, 1/s)
		}
	}

	var tmp mat.Dense
	tmp.Mul(&v, sigmaPlus)
	pinv.Mul(&tmp, u.T())

	var x mat.VecDense
	x.MulVec(&pinv, b)
	return &x, nil
}

var errSVDFailed = domain.NewEngineError(domain.ErrNumericalDegeneracy, "SVD factorization failed", nil)

// weightedRSquared computes the weighted coefficient of determination of the
// fitted model, used purely as a diagnostic, never as a gating condition.
func weightedRSquared(X *mat.Dense, y *mat.VecDense, W *mat.DiagDense, beta *mat.VecDense) float64 {
	n, _ := X.Dims()
	var yHat mat.VecDense
	yHat.MulVec(X, beta)

	var wSum, yWMean float64
	for i := 0; i < n; i++ {
		w := W.At(i, i)
		wSum += w
		yWMean += w * y.AtVec(i)
	}
	if wSum == 0 {
		return 0
	}
	yWMean /= wSum

	var ssRes, ssTot float64
	for i := 0; i < n; i++ {
		w := W.At(i, i)
		resid := y.AtVec(i) - yHat.AtVec(i)
		ssRes += w * resid * resid
		diff := y.AtVec(i) - yWMean
		ssTot += w * diff * diff
	}
	if ssTot == 0 {
		return 0
	}
	r2 := 1 - ssRes/ssTot
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0
	}
	return r2
}
