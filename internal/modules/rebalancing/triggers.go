package rebalancing

import "gonum.org/v1/gonum/mat"

// quadForm computes x' Sigma x for an active weight vector, the same
// tracking-error proxy the optimizer itself reports.
func quadForm(sigma *mat.Dense, x []float64) float64 {
	n := len(x)
	var v float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v += x[i] * x[j] * sigma.At(i, j)
		}
	}
	return v
}

// TriggerReason identifies why a rebalance cycle ran.
type TriggerReason int

const (
	TriggerScheduled TriggerReason = iota
	TriggerDrift
	TriggerHarvestOpportunity
	TriggerManual
)

func (r TriggerReason) String() string {
	switch r {
	case TriggerDrift:
		return "drift"
	case TriggerHarvestOpportunity:
		return "harvest_opportunity"
	case TriggerManual:
		return "manual"
	default:
		return "scheduled"
	}
}

// TriggerInputs are the signals used to decide whether an account's
// rebalance cycle should run and why.
type TriggerInputs struct {
	Manual                  bool
	TrackingError           float64 // risk-model tracking-error proxy, variance units
	TrackingErrorThreshold  float64
	HarvestBenefitAvailable float64 // sum of tax benefit across scanned opportunities
	MinHarvestBenefit       float64
	Scheduled               bool // true when invoked from the periodic sweep
}

// TriggerEvaluation is the outcome of evaluating an account's triggers.
type TriggerEvaluation struct {
	ShouldRebalance bool
	Reason          TriggerReason
}

// EvaluateTriggers decides whether to run a rebalance cycle, in priority
// order: an explicit manual request always runs; drift past the tracking
// error threshold or an available harvest benefit above the minimum both
// justify a cycle on their own. Being invoked from the periodic sweep is
// not itself a reason to trade - a clean account whose weights already
// match the benchmark and has no harvestable loss reports ShouldRebalance
// false so the caller can skip the optimizer and execution path entirely.
func EvaluateTriggers(in TriggerInputs) TriggerEvaluation {
	if in.Manual {
		return TriggerEvaluation{ShouldRebalance: true, Reason: TriggerManual}
	}
	if in.TrackingErrorThreshold > 0 && in.TrackingError > in.TrackingErrorThreshold {
		return TriggerEvaluation{ShouldRebalance: true, Reason: TriggerDrift}
	}
	if in.MinHarvestBenefit > 0 && in.HarvestBenefitAvailable >= in.MinHarvestBenefit {
		return TriggerEvaluation{ShouldRebalance: true, Reason: TriggerHarvestOpportunity}
	}
	reason := TriggerReason(TriggerScheduled)
	if !in.Scheduled {
		reason = TriggerManual
	}
	return TriggerEvaluation{ShouldRebalance: false, Reason: reason}
}
