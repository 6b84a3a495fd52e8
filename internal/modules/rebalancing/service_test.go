package rebalancing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMinTradeAmount(t *testing.T) {
	tests := []struct {
		name     string
		fixed    float64
		percent  float64
		maxRatio float64
		want     float64
	}{
		{"standard costs", 2.0, 0.002, 0.01, 250.0},
		{"higher fixed cost", 5.0, 0.002, 0.01, 625.0},
		{"variable cost exceeds max", 2.0, 0.02, 0.01, 1000.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateMinTradeAmount(tt.fixed, tt.percent, tt.maxRatio)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
