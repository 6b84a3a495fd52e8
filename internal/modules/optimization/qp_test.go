package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestSolve_ConvergesToBenchmarkWhenNoOtherForces(t *testing.T) {
	n := 3
	sigma := mat.NewDense(n, n, []float64{
		0.04, 0.01, 0.00,
		0.01, 0.05, 0.01,
		0.00, 0.01, 0.03,
	})
	in := Inputs{
		Sigma:                  sigma,
		CurrentWeights:         []float64{0.5, 0.3, 0.2},
		BenchmarkWeights:       []float64{0.4, 0.4, 0.2},
		TaxBenefitPerUnit:      []float64{0, 0, 0},
		GainPenaltyPerUnit:     []float64{0, 0, 0},
		TransactionCostFixed:   0,
		TransactionCostPercent: 0,
		LambdaRisk:             1.0,
		LambdaTransactionCost:  0.01,
		TurnoverLimit:          1.0,
	}

	result, err := solve(in)
	assert.NoError(t, err)

	var sum float64
	for _, w := range result.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	// The second weight (benchmark 0.4) must not fall materially below its
	// starting 0.3.
	assert.Greater(t, result.Weights[1], in.CurrentWeights[1]-0.05)
}

func TestSolve_TaxBenefitPullsWeightAwayFromLossPosition(t *testing.T) {
	n := 2
	sigma := mat.NewDense(n, n, []float64{
		0.02, 0.00,
		0.00, 0.02,
	})
	withBenefit := Inputs{
		Sigma:                 sigma,
		CurrentWeights:        []float64{0.5, 0.5},
		BenchmarkWeights:      []float64{0.5, 0.5},
		TaxBenefitPerUnit:     []float64{1.0, 0.0},
		GainPenaltyPerUnit:    []float64{0, 0},
		LambdaRisk:            1.0,
		LambdaTaxBenefit:      1.0,
		LambdaTransactionCost: 0.001,
		TurnoverLimit:         1.0,
	}
	without := withBenefit
	without.TaxBenefitPerUnit = []float64{0, 0}

	withResult, err := solve(withBenefit)
	assert.NoError(t, err)
	withoutResult, err := solve(without)
	assert.NoError(t, err)

	// Harvesting the loss in security 0 should pull its weight down
	// relative to the no-benefit baseline.
	assert.Less(t, withResult.Weights[0], withoutResult.Weights[0]+1e-6)
}

func TestProjectToSimplex_ClipsAndRenormalizes(t *testing.T) {
	out := projectToSimplex([]float64{-0.1, 0.6, 0.6})
	var sum float64
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 0.0, out[0])
}
