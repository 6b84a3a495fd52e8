package optimization

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/config"
	"github.com/taxaware/portfolio-engine/internal/domain"
)

// Optimizer builds a tax-aware, benchmark-tracking weight vector for an
// account, balancing factor-model risk against transaction costs and
// harvesting opportunities.
type Optimizer struct {
	db  *sql.DB // analytics store: exposures, factor covariance, specific variance, benchmark constituents
	cfg *config.Config
	log zerolog.Logger
}

// NewOptimizer creates a new optimizer reading risk model data from the
// given analytics database.
func NewOptimizer(db *sql.DB, cfg *config.Config, log zerolog.Logger) *Optimizer {
	return &Optimizer{db: db, cfg: cfg, log: log.With().Str("component", "optimization").Logger()}
}

// Request describes one account's rebalance inputs. SecurityIDs, Symbols,
// CurrentWeights, TaxBenefitPerUnit and GainPenaltyPerUnit must all be the
// same length and aligned by index.
type Request struct {
	Month               time.Time
	BenchmarkID         int64
	SecurityIDs         []int64
	Symbols             []string
	CurrentWeights      []float64
	TaxBenefitPerUnit   []float64
	GainPenaltyPerUnit  []float64
}

// Result is the optimizer's target weight vector and convergence metadata.
type Result struct {
	SecurityIDs   []int64
	Symbols       []string
	TargetWeights []float64
	Status        domain.SolverStatus
	Method        string
	TrackingError float64
	UsedRiskModel bool
}

// Optimize solves for target weights that track the benchmark within the
// configured tolerance while favoring harvesting losses and penalizing
// excess turnover and realized gains.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	n := len(req.SecurityIDs)
	if n == 0 {
		return nil, domain.NewEngineError(domain.ErrDataUnavailable, "optimize called with an empty security universe", nil)
	}
	if len(req.CurrentWeights) != n || len(req.TaxBenefitPerUnit) != n || len(req.GainPenaltyPerUnit) != n {
		return nil, fmt.Errorf("optimize: mismatched input lengths")
	}

	riskModel, err := LoadRiskModel(o.db, req.Month, req.SecurityIDs, o.cfg.SmoothSpecificRisk)
	if err != nil {
		return nil, fmt.Errorf("load risk model: %w", err)
	}
	if !riskModel.UsedFactors {
		o.log.Warn().Time("month", req.Month).Msg("no risk model found for month, falling back to diagonal covariance")
	}

	benchWeights, err := BenchmarkWeights(o.db, req.BenchmarkID, req.Month, req.SecurityIDs)
	if err != nil {
		return nil, fmt.Errorf("load benchmark weights: %w", err)
	}

	in := Inputs{
		Sigma:                  riskModel.Sigma,
		CurrentWeights:         req.CurrentWeights,
		BenchmarkWeights:       benchWeights,
		TaxBenefitPerUnit:      req.TaxBenefitPerUnit,
		GainPenaltyPerUnit:     req.GainPenaltyPerUnit,
		TransactionCostFixed:   o.cfg.TransactionCostFixed,
		TransactionCostPercent: o.cfg.TransactionCostPercent,
		LambdaRisk:             1.0,
		LambdaTransactionCost:  o.cfg.LambdaTransactionCost,
		LambdaTaxBenefit:       o.cfg.LambdaTaxBenefit,
		LambdaGainPenalty:      o.cfg.LambdaGainPenalty,
		TurnoverLimit:          o.cfg.TurnoverLimit,
		TrackingErrorCeiling:   o.cfg.TrackingErrorCeiling,
	}

	solved, err := solve(in)
	if err != nil {
		return &Result{
			SecurityIDs: req.SecurityIDs,
			Symbols:     req.Symbols,
			Status:      domain.SolverStatusFailed,
		}, fmt.Errorf("solve: %w", err)
	}

	active := make([]float64, n)
	for i := range solved.Weights {
		active[i] = solved.Weights[i] - benchWeights[i]
	}
	trackingError := trackingErrorVariance(riskModel.Sigma, active)

	return &Result{
		SecurityIDs:   req.SecurityIDs,
		Symbols:       req.Symbols,
		TargetWeights: solved.Weights,
		Status:        solved.Status,
		Method:        solved.Method.String(),
		TrackingError: trackingError,
		UsedRiskModel: riskModel.UsedFactors,
	}, nil
}
