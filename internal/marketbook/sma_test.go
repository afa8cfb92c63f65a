package marketbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMAUndefinedWhenInsufficientData(t *testing.T) {
	closes := make([]float64, 24)
	for i := range closes {
		closes[i] = 100
	}
	assert.Nil(t, sma(closes, 25))
}

func TestSMAComputesAverageOverWindow(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	avg := sma(closes, 5)
	if assert.NotNil(t, avg) {
		f, _ := avg.Float64()
		assert.InDelta(t, 3.0, f, 0.0001)
	}
}

func TestSMAUsesTrailingWindowOnly(t *testing.T) {
	closes := []float64{100, 100, 100, 2, 4, 6}
	avg := sma(closes, 3)
	if assert.NotNil(t, avg) {
		f, _ := avg.Float64()
		assert.InDelta(t, 4.0, f, 0.0001)
	}
}

func TestRecomputeIndicatorsLeavesUndefinedUntilEnoughHistory(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 50
	}

	set := recomputeIndicators(closes)
	assert.NotNil(t, set.SMA25)
	assert.Nil(t, set.SMA50)
	assert.Nil(t, set.SMA100)
	assert.Nil(t, set.SMA200)
	assert.False(t, set.Defined())
}
