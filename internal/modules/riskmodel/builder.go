package riskmodel

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/config"
	"github.com/taxaware/portfolio-engine/internal/domain"
)

// sizeFactorName is the factor every other style factor is orthogonalized
// against, per the fixed ordering decision (impute, then orthogonalize).
const sizeFactorName = "Size"

// Result summarizes one month's completed risk model build.
type Result struct {
	Month           time.Time                      `json:"month"`
	NStocks         int                             `json:"n_stocks"`
	NFactors        int                             `json:"n_factors"`
	FractionImputed float64                         `json:"fraction_imputed"`
	Diagnostics     domain.RegressionDiagnostics    `json:"diagnostics"`
}

// Builder runs the monthly risk model pipeline: load raw exposures, impute
// and orthogonalize them, regress cross-sectional returns against them,
// estimate specific variance, and roll up the factor covariance matrix.
type Builder struct {
	repo *Repository
	cfg  *config.Config
	log  zerolog.Logger
}

// NewBuilder creates a new risk model builder over the analytics store.
func NewBuilder(db *sql.DB, cfg *config.Config, log zerolog.Logger) *Builder {
	_ = InitSchema(db)
	return &Builder{
		repo: NewRepository(db, log),
		cfg:  cfg,
		log:  log.With().Str("component", "riskmodel").Logger(),
	}
}

// BuildMonth runs the full pipeline for a single calendar month.
func (b *Builder) BuildMonth(ctx context.Context, month time.Time) (*Result, error) {
	securityIDs, err := b.repo.ActiveSecurityIDs()
	if err != nil {
		return nil, err
	}
	if len(securityIDs) == 0 {
		return nil, domain.NewEngineError(domain.ErrDataUnavailable, "no active securities", nil)
	}

	labels, err := b.repo.ClassificationLabels(securityIDs)
	if err != nil {
		return nil, err
	}

	factors, styleFactorCount, err := b.repo.EnsureStyleAndClassificationFactors(labels)
	if err != nil {
		return nil, err
	}
	if len(factors) == 0 {
		return nil, domain.NewEngineError(domain.ErrDataUnavailable, "no factors configured", nil)
	}

	styleInputs, err := b.repo.LoadStyleInputs(month, securityIDs)
	if err != nil {
		return nil, err
	}
	exposures := ComputeStyleFactors(securityIDs, styleInputs)

	Winsorize(exposures, 1, 99)
	ZScore(exposures)

	fractionImputed := Impute(exposures, labels)
	if fractionImputed > b.cfg.ImputationWarningThreshold {
		b.log.Warn().
			Float64("fraction_imputed", fractionImputed).
			Time("month", month).
			Msg("imputed exposure fraction exceeds warning threshold")
	}

	Orthogonalize(exposures, sizeFactorName, styleFactorCount)

	industryNames, countryNames := ClassificationFactorNames(labels)
	BuildClassificationExposures(exposures, securityIDs, labels, industryNames, countryNames)

	if err := b.repo.SaveExposures(month, exposures, factors); err != nil {
		return nil, err
	}

	returns, weights, err := b.repo.MonthlyReturnsAndWeights(month, securityIDs)
	if err != nil {
		return nil, err
	}

	regOut, err := RunCrossSectionalRegression(RegressionInput{
		Returns:   returns,
		Exposures: exposures.Values,
		Weights:   weights,
	})
	if err != nil {
		return nil, err
	}
	regOut.Diagnostics.Month = month

	if err := b.repo.SaveFactorReturns(month, factors, regOut.FactorReturns); err != nil {
		return nil, err
	}
	if err := b.repo.SaveDiagnostics(regOut.Diagnostics); err != nil {
		return nil, err
	}

	if err := b.buildSpecificRisk(month, securityIDs, exposures, returns, regOut.FactorReturns); err != nil {
		return nil, err
	}

	if err := b.buildFactorCovariance(month, factors); err != nil {
		return nil, err
	}

	return &Result{
		Month:           month,
		NStocks:         len(securityIDs),
		NFactors:        len(factors),
		FractionImputed: fractionImputed,
		Diagnostics:     regOut.Diagnostics,
	}, nil
}

func (b *Builder) buildSpecificRisk(month time.Time, securityIDs []int64, exposures *ExposureMatrix, returns, factorReturns []float64) error {
	residuals := ComputeResiduals(returns, exposures.Values, factorReturns)

	// A single month's squared residual is a noisy point estimate of
	// specific variance; it stands in for a trailing-window variance
	// until enough history has accumulated.
	raw := make([]float64, len(residuals))
	for i, r := range residuals {
		raw[i] = r * r
	}

	intensity := 0.0
	if b.cfg.SmoothSpecificRisk {
		intensity = 0.3
	}
	shrunk := ShrinkSpecificVariance(raw, intensity)

	return b.repo.SaveSpecificVariance(month, securityIDs, raw, shrunk)
}

func (b *Builder) buildFactorCovariance(month time.Time, factors []domain.Factor) error {
	longWindow := b.cfg.FactorCovWindowMonths
	history, err := b.repo.FactorReturnHistory(month, factors, longWindow)
	if err != nil {
		return err
	}
	if len(history) < 2 {
		b.log.Warn().Time("month", month).Msg("insufficient factor return history for covariance, skipping")
		return nil
	}

	longCov := SampleCovariance(history)
	cov := longCov

	if b.cfg.BlendFactorCovariance && len(history) > b.cfg.FactorCovShortWindowMonths {
		shortHistory := history[len(history)-b.cfg.FactorCovShortWindowMonths:]
		shortCov := SampleCovariance(shortHistory)
		cov = BlendCovariance(shortCov, longCov, 0.5)
	}

	if b.cfg.ShrinkFactorCovariance {
		cov = ShrinkToDiagonal(cov, b.cfg.ShrinkageIntensity)
	}

	cov = EnforcePSD(cov)

	return b.repo.SaveFactorCovariance(month, factors, func(i, j int) float64 {
		return cov.At(i, j)
	})
}
