package rebalancing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateTriggers_ManualAlwaysWins(t *testing.T) {
	eval := EvaluateTriggers(TriggerInputs{Manual: true})
	assert.True(t, eval.ShouldRebalance)
	assert.Equal(t, TriggerManual, eval.Reason)
}

func TestEvaluateTriggers_DriftOutranksHarvestAndSchedule(t *testing.T) {
	eval := EvaluateTriggers(TriggerInputs{
		TrackingError:           0.05,
		TrackingErrorThreshold:  0.02,
		HarvestBenefitAvailable: 500,
		MinHarvestBenefit:       100,
		Scheduled:               true,
	})
	assert.True(t, eval.ShouldRebalance)
	assert.Equal(t, TriggerDrift, eval.Reason)
}

func TestEvaluateTriggers_HarvestOpportunityWithoutDrift(t *testing.T) {
	eval := EvaluateTriggers(TriggerInputs{
		TrackingError:          0.01,
		TrackingErrorThreshold: 0.02,
		HarvestBenefitAvailable: 500,
		MinHarvestBenefit:      100,
	})
	assert.True(t, eval.ShouldRebalance)
	assert.Equal(t, TriggerHarvestOpportunity, eval.Reason)
}

// TestEvaluateTriggers_BareScheduleWithNoOtherSignalSkips mirrors scenario
// S4: a clean portfolio whose weights already match the benchmark and has
// no harvestable loss must not rebalance just because the periodic sweep
// called it.
func TestEvaluateTriggers_BareScheduleWithNoOtherSignalSkips(t *testing.T) {
	eval := EvaluateTriggers(TriggerInputs{Scheduled: true, TrackingErrorThreshold: 0.02, MinHarvestBenefit: 100})
	assert.False(t, eval.ShouldRebalance)
}

func TestEvaluateTriggers_NothingTriggersWhenUncalled(t *testing.T) {
	eval := EvaluateTriggers(TriggerInputs{TrackingErrorThreshold: 0.02, MinHarvestBenefit: 100})
	assert.False(t, eval.ShouldRebalance)
}
