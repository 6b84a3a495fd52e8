package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/taxaware/portfolio-engine/internal/domain"
)

// SolverMethod records which gonum/optimize method produced the accepted
// solution, or whether the feasibility projection had to run.
type SolverMethod int

const (
	SolverMethodBFGS SolverMethod = iota
	SolverMethodNelderMead
	SolverMethodProjectionOnly
)

func (m SolverMethod) String() string {
	switch m {
	case SolverMethodBFGS:
		return "bfgs"
	case SolverMethodNelderMead:
		return "nelder_mead"
	case SolverMethodProjectionOnly:
		return "projection_only"
	default:
		return "unknown"
	}
}

var convergedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
}

// SolveResult is the feasibility-projected weight vector and the solver
// metadata needed to report how it was reached.
type SolveResult struct {
	Weights []float64
	Status  domain.SolverStatus
	Method  SolverMethod
}

// solve runs the penalty-augmented problem with BFGS first, falling back
// to Nelder-Mead if BFGS fails to converge, mirroring the escalation the
// mean-variance optimizer this package generalizes already used. A final
// projection onto the long-only, budget-normalized simplex guarantees the
// returned weights are feasible even if the solver only got close.
func solve(in Inputs) (*SolveResult, error) {
	n := len(in.CurrentWeights)
	if n == 0 {
		return &SolveResult{Status: domain.SolverStatusOptimal, Method: SolverMethodProjectionOnly}, nil
	}

	problem := buildProblem(in)

	initial := make([]float64, n)
	copy(initial, in.CurrentWeights)

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	method := SolverMethodBFGS
	status := domain.SolverStatusOptimal

	if err != nil || !convergedStatuses[result.Status] {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		method = SolverMethodNelderMead
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !convergedStatuses[result.Status] {
			status = domain.SolverStatusOptimalInaccurate
		}
	}

	weights := projectToSimplex(result.X)
	return &SolveResult{Weights: weights, Status: status, Method: method}, nil
}

// projectToSimplex clips negative weights to zero and renormalizes to sum
// to 1, the long-only taxable-account feasible set.
func projectToSimplex(x []float64) []float64 {
	out := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		out[i] = math.Max(0, v)
		sum += out[i]
	}
	if sum <= 1e-10 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
