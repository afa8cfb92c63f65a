package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/deriv-trading/agent/internal/marketbook"
)

func TestStateStringCoversAllStates(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "IDLE",
		StateEntering:   "ENTERING",
		StateInPosition: "IN_POSITION",
		StateExiting:    "EXITING",
		StatePaused:     "PAUSED",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestEngineSnapshotReflectsIdleState(t *testing.T) {
	book := marketbook.New("1HZ100V", marketbook.DefaultTimeframes, marketbook.Timeframe1m)
	e := &Engine{book: book, state: StateIdle}

	snap := e.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.OpenContract)
}

func TestOnIndicatorsUpdatedDoesNotStartCooldownWithoutACrossover(t *testing.T) {
	book := marketbook.New("1HZ100V", []int{marketbook.Timeframe1m}, marketbook.Timeframe1m)
	e := &Engine{book: book, state: StateIdle}
	ctx := context.Background()

	// With no SMA25 defined yet, there is nothing to cross; repeated
	// empty updates must not start a cooldown.
	e.onIndicatorsUpdated(ctx, marketbook.IndicatorSet{})
	assert.True(t, e.lastCrossover.IsZero())

	e.onIndicatorsUpdated(ctx, marketbook.IndicatorSet{})
	assert.True(t, e.lastCrossover.IsZero(), "no crossover occurred, cooldown must not start")
}

func TestCrossedUpDetectsSMA25CrossingSMA50Upward(t *testing.T) {
	below := decimal.NewFromInt(100)
	above := decimal.NewFromInt(110)
	sma50 := decimal.NewFromInt(105)

	prev := marketbook.IndicatorSet{SMA25: &below, SMA50: &sma50}
	next := marketbook.IndicatorSet{SMA25: &above, SMA50: &sma50}

	assert.True(t, crossedUp(prev, next))
	assert.False(t, crossedUp(next, prev), "a downward move across SMA50 is not an upward crossover")
}

func TestCrossedUpIgnoresNoCrossing(t *testing.T) {
	v1 := decimal.NewFromInt(100)
	v2 := decimal.NewFromInt(101)
	sma50 := decimal.NewFromInt(105)

	prev := marketbook.IndicatorSet{SMA25: &v1, SMA50: &sma50}
	next := marketbook.IndicatorSet{SMA25: &v2, SMA50: &sma50}

	assert.False(t, crossedUp(prev, next))
}
