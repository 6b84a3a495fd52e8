package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// smoothEps softens the |x| turnover and sell-amount terms so the
// objective stays differentiable at zero, the same trick the penalty
// terms below use for the bound and turnover constraints.
const smoothEps = 1e-8

// constraintPenaltyWeight is the penalty multiplier for the hard constraints,
// large enough that a converged solution effectively satisfies them.
const constraintPenaltyWeight = 1000.0

// Inputs fully describes one rebalance's QP: the risk structure, the
// starting weights, a benchmark to track, and the per-security economic
// terms that push weights toward harvesting losses without fighting the
// tracking-error objective unnecessarily.
type Inputs struct {
	Sigma              *mat.Dense // n x n asset covariance
	CurrentWeights     []float64
	BenchmarkWeights   []float64
	TaxBenefitPerUnit  []float64 // $ benefit per unit of weight sold, 0 where none applies
	GainPenaltyPerUnit []float64 // $ realized-gain cost per unit of weight sold, 0 where none applies

	TransactionCostFixed   float64
	TransactionCostPercent float64

	LambdaRisk            float64
	LambdaTransactionCost float64
	LambdaTaxBenefit      float64
	LambdaGainPenalty     float64

	TurnoverLimit        float64
	TrackingErrorCeiling float64 // variance units; 0 disables the constraint
}

// buildProblem constructs the penalty-augmented unconstrained problem
// handed to the solver: minimize risk + cost - tax benefit + gain penalty,
// plus squared penalties for budget, long-only, turnover and tracking
// error constraint violations.
func buildProblem(in Inputs) optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			return evaluate(in, x)
		},
		Grad: func(grad, x []float64) {
			gradient(in, x, grad)
		},
	}
}

func trackingErrorVariance(sigma *mat.Dense, active []float64) float64 {
	n := len(active)
	var v float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v += active[i] * active[j] * sigma.At(i, j)
		}
	}
	return v
}

func smoothAbs(x float64) float64 {
	return math.Sqrt(x*x + smoothEps)
}

func smoothAbsGrad(x float64) float64 {
	return x / math.Sqrt(x*x+smoothEps)
}

// smoothSellAmount approximates max(0, sold) = (sold + |sold|) / 2, where
// sold is the drop in weight (w0 - w); positive when the position shrank.
func smoothSellAmount(sold float64) float64 {
	return (sold + smoothAbs(sold)) / 2
}

func smoothSellAmountGrad(sold float64) float64 {
	return (1 + smoothAbsGrad(sold)) / 2
}

func evaluate(in Inputs, x []float64) float64 {
	n := len(x)
	active := make([]float64, n)
	for i := range x {
		active[i] = x[i] - in.BenchmarkWeights[i]
	}
	risk := trackingErrorVariance(in.Sigma, active)

	var cost, taxBenefit, gainPenalty, sum, turnover float64
	for i := 0; i < n; i++ {
		delta := x[i] - in.CurrentWeights[i]
		sum += x[i]
		absDelta := smoothAbs(delta)
		turnover += absDelta
		if absDelta > 1e-9 {
			cost += in.TransactionCostFixed + in.TransactionCostPercent*absDelta
		}

		sold := smoothSellAmount(in.CurrentWeights[i] - x[i])
		taxBenefit += in.TaxBenefitPerUnit[i] * sold
		gainPenalty += in.GainPenaltyPerUnit[i] * sold
	}

	obj := in.LambdaRisk*risk +
		in.LambdaTransactionCost*cost -
		in.LambdaTaxBenefit*taxBenefit +
		in.LambdaGainPenalty*gainPenalty

	obj += constraintPenaltyWeight * (sum - 1.0) * (sum - 1.0)

	for i := 0; i < n; i++ {
		if x[i] < 0 {
			obj += constraintPenaltyWeight * x[i] * x[i]
		}
	}

	if in.TurnoverLimit > 0 && turnover > in.TurnoverLimit {
		over := turnover - in.TurnoverLimit
		obj += constraintPenaltyWeight * over * over
	}

	if in.TrackingErrorCeiling > 0 && risk > in.TrackingErrorCeiling {
		over := risk - in.TrackingErrorCeiling
		obj += constraintPenaltyWeight * over * over
	}

	return obj
}

func gradient(in Inputs, x []float64, grad []float64) {
	n := len(x)
	active := make([]float64, n)
	for i := range x {
		active[i] = x[i] - in.BenchmarkWeights[i]
	}
	risk := trackingErrorVariance(in.Sigma, active)

	var sum, turnover float64
	for i := 0; i < n; i++ {
		sum += x[i]
		turnover += smoothAbs(x[i] - in.CurrentWeights[i])
	}

	for i := 0; i < n; i++ {
		var dRisk float64
		for j := 0; j < n; j++ {
			dRisk += 2 * in.Sigma.At(i, j) * active[j]
		}
		grad[i] = in.LambdaRisk * dRisk

		delta := x[i] - in.CurrentWeights[i]
		dCost := in.TransactionCostPercent * smoothAbsGrad(delta)
		grad[i] += in.LambdaTransactionCost * dCost

		dSold := -smoothSellAmountGrad(in.CurrentWeights[i] - x[i])
		grad[i] -= in.LambdaTaxBenefit * in.TaxBenefitPerUnit[i] * dSold
		grad[i] += in.LambdaGainPenalty * in.GainPenaltyPerUnit[i] * dSold

		grad[i] += 2 * constraintPenaltyWeight * (sum - 1.0)

		if x[i] < 0 {
			grad[i] += 2 * constraintPenaltyWeight * x[i]
		}

		if in.TurnoverLimit > 0 && turnover > in.TurnoverLimit {
			over := turnover - in.TurnoverLimit
			grad[i] += 2 * constraintPenaltyWeight * over * smoothAbsGrad(delta)
		}

		if in.TrackingErrorCeiling > 0 && risk > in.TrackingErrorCeiling {
			over := risk - in.TrackingErrorCeiling
			grad[i] += 2 * constraintPenaltyWeight * over * dRisk
		}
	}
}
