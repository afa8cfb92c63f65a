package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/deriv-trading/agent/internal/config"
)

func baseConfig() (config.RiskConfig, config.SessionConfig) {
	return config.RiskConfig{
			DailyCapUSD:              50,
			TrainDeltaThreshold:      4.0,
			TrainPauseMinutes:        15,
			CooldownMinutesCrossover: 5,
			KillswitchDrawdownPct:    4.5,
			KillswitchWindowHours:    24,
			RiskFraction:             0.02,
		}, config.SessionConfig{
			StartUTCHour: 0,
			EndUTCHour:   23,
		}
}

func TestAssessApprovesWithinAllLimits(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)

	assert.True(t, assessment.Approved)
	assert.True(t, assessment.StakeAmount.Equal(decimal.NewFromInt(20)))
}

func TestDailyCapGuardRejectsOnceProfitReachesCap(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))
	g.RecordTrade(decimal.NewFromInt(50))

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)

	assert.False(t, assessment.Approved)
	assert.Contains(t, assessment.Reasons, "daily profit cap reached")
}

func TestTrainGuardPausesOnTwoConsecutiveBigDeltas(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	g.RecordTick(decimal.NewFromInt(100))
	g.RecordTick(decimal.NewFromInt(105)) // delta +5
	g.RecordTick(decimal.NewFromInt(111)) // delta +6

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)

	assert.False(t, assessment.Approved)
	assert.Contains(t, assessment.Reasons, "train detected: momentum burst")
}

func TestTrainGuardIgnoresSingleBigDelta(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	g.RecordTick(decimal.NewFromInt(100))
	g.RecordTick(decimal.NewFromInt(106)) // delta +6
	g.RecordTick(decimal.NewFromInt(107)) // delta +1, not a train

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)
	assert.True(t, assessment.Approved)
}

func TestDrawdownKillswitchTripsAtThreshold(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	g.UpdateBalance(decimal.NewFromInt(954)) // 4.6% down from 1000

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)

	assert.False(t, assessment.Approved)
	assert.Contains(t, assessment.Reasons, "drawdown killswitch tripped")
}

func TestDrawdownKillswitchDoesNotTripBelowThreshold(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	g.UpdateBalance(decimal.NewFromInt(960)) // 4% down, below 4.5% threshold

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)
	assert.True(t, assessment.Approved)
}

func TestSessionGateRejectsOutsideWindow(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	sessCfg.StartUTCHour = 8
	sessCfg.EndUTCHour = 20
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	outside := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
	assessment := g.Assess(outside)

	assert.False(t, assessment.Approved)
	assert.Contains(t, assessment.Reasons, "outside trading session")
}

func TestSessionGateRejectsDuringWeeklyMaintenanceWindow(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(1000))

	// 2026-08-01 is a Saturday; 23:58 UTC falls in the blackout.
	saturdayLate := time.Date(2026, 8, 1, 23, 58, 0, 0, time.UTC)
	assessment := g.Assess(saturdayLate)

	assert.False(t, assessment.Approved)
	assert.Contains(t, assessment.Reasons, "weekly maintenance window")
}

func TestSizedStakeFloorsAtMinimumForDepletedAccount(t *testing.T) {
	riskCfg, sessCfg := baseConfig()
	g := New(riskCfg, sessCfg, decimal.NewFromInt(10))

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assessment := g.Assess(now)

	assert.True(t, assessment.Approved)
	assert.True(t, assessment.StakeAmount.Equal(decimal.NewFromInt(1)))
}
