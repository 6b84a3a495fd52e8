package riskmodel

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// psdFloor is the minimum eigenvalue a cleaned covariance matrix may have.
const psdFloor = 1e-10

// SampleCovariance computes the sample covariance (ddof=1) of factor
// returns over a rolling window. returns is laid out months x factors.
func SampleCovariance(returns [][]float64) *mat.SymDense {
	nMonths := len(returns)
	if nMonths == 0 {
		return mat.NewSymDense(0, nil)
	}
	k := len(returns[0])

	cols := make([][]float64, k)
	for j := 0; j < k; j++ {
		cols[j] = make([]float64, nMonths)
		for i := 0; i < nMonths; i++ {
			cols[j][i] = returns[i][j]
		}
	}

	cov := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			cov.SetSym(a, b, stat.Covariance(cols[a], cols[b], nil))
		}
	}
	return cov
}

// BlendCovariance combines a short-window and long-window covariance
// estimate by simple averaging, trading off responsiveness for stability.
func BlendCovariance(short, long *mat.SymDense, shortWeight float64) *mat.SymDense {
	k, _ := short.Dims()
	blended := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			v := shortWeight*short.At(a, b) + (1-shortWeight)*long.At(a, b)
			blended.SetSym(a, b, v)
		}
	}
	return blended
}

// ShrinkToDiagonal shrinks a covariance matrix toward its diagonal
// (a Ledoit-Wolf style target), reducing estimation error in off-diagonal
// terms at the cost of some bias. intensity is in [0, 1]; 0 leaves the
// matrix unchanged, 1 zeroes every off-diagonal element.
func ShrinkToDiagonal(cov *mat.SymDense, intensity float64) *mat.SymDense {
	k, _ := cov.Dims()
	shrunk := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			if a == b {
				shrunk.SetSym(a, b, cov.At(a, b))
				continue
			}
			shrunk.SetSym(a, b, (1-intensity)*cov.At(a, b))
		}
	}
	return shrunk
}

// EnforcePSD clips any negative eigenvalues of cov up to psdFloor and
// reconstructs the matrix, guaranteeing a valid covariance matrix for the
// downstream quadratic form even after blending/shrinkage.
func EnforcePSD(cov *mat.SymDense) *mat.SymDense {
	k, _ := cov.Dims()
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return cov
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	needsClip := false
	for _, v := range values {
		if v < psdFloor {
			needsClip = true
			break
		}
	}
	if !needsClip {
		return cov
	}

	clipped := make([]float64, k)
	for i, v := range values {
		if v < psdFloor {
			clipped[i] = psdFloor
		} else {
			clipped[i] = v
		}
	}

	var diag mat.Dense
	diag.Mul(&vectors, mat.NewDiagDense(k, clipped))
	var reconstructed mat.Dense
	reconstructed.Mul(&diag, vectors.T())

	out := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			out.SetSym(a, b, reconstructed.At(a, b))
		}
	}
	return out
}
