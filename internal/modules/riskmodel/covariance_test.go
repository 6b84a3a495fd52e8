package riskmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func newSym(k int, vals [][]float64) *mat.SymDense {
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, vals[i][j])
		}
	}
	return sym
}

func TestEnforcePSD_ClipsNegativeEigenvalues(t *testing.T) {
	// A symmetric matrix with a negative eigenvalue (not a valid covariance).
	notPSD := newSym(2, [][]float64{
		{1, 2},
		{2, 1},
	}) // eigenvalues: 3, -1

	cleaned := EnforcePSD(notPSD)

	// Reconstructed matrix must itself be PSD: verify via a second pass,
	// which should report no further clipping needed.
	twiceCleaned := EnforcePSD(cleaned)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, cleaned.At(i, j), twiceCleaned.At(i, j), 1e-6)
		}
	}
}

func TestShrinkToDiagonal_LeavesDiagonalUnchanged(t *testing.T) {
	cov := newSym(2, [][]float64{
		{4, 1},
		{1, 9},
	})
	shrunk := ShrinkToDiagonal(cov, 0.5)
	assert.Equal(t, 4.0, shrunk.At(0, 0))
	assert.Equal(t, 9.0, shrunk.At(1, 1))
	assert.Equal(t, 0.5, shrunk.At(0, 1))
}
