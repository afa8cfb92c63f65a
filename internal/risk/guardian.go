// Package risk composes the guard chain that stands between a
// candidate entry signal and an actual buy request: a session gate,
// a daily profit cap, a momentum "train" detector, a drawdown
// killswitch, and risk-based position sizing. All five must approve.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/deriv-trading/agent/internal/config"
)

// Guardian holds the account state the guard chain evaluates against
// and exposes the single entry point the strategy engine calls before
// opening a position.
type Guardian struct {
	cfg config.RiskConfig
	ses config.SessionConfig

	mu    sync.Mutex
	state AccountState
	ticks []decimal.Decimal // rolling buffer for the train detector
}

// New creates a Guardian seeded with the account's opening balance.
func New(riskCfg config.RiskConfig, sessionCfg config.SessionConfig, openingBalance decimal.Decimal) *Guardian {
	now := time.Now().UTC()
	return &Guardian{
		cfg: riskCfg,
		ses: sessionCfg,
		state: AccountState{
			Balance:        openingBalance,
			HighestBalance: openingBalance,
			HighestAt:      now,
			Today:          DailyStat{Date: now.Format("2006-01-02")},
		},
	}
}

// UpdateBalance folds a fresh balance reading into account state,
// tracking the running high for the drawdown killswitch.
func (g *Guardian) UpdateBalance(balance decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.Balance = balance
	if balance.GreaterThan(g.state.HighestBalance) {
		g.state.HighestBalance = balance
		g.state.HighestAt = time.Now().UTC()
	}
}

// RecordTrade folds a closed trade's realized P/L into today's
// DailyStat, rolling it over at the UTC day boundary.
func (g *Guardian) RecordTrade(realizedPnL decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if g.state.Today.Date != today {
		g.state.Today = DailyStat{Date: today}
	}
	g.state.Today.RealizedPnL = g.state.Today.RealizedPnL.Add(realizedPnL)
	g.state.Today.TradeCount++
}

// RecordTick feeds the rolling tick buffer the train detector reads.
// Keep only the last five entries.
func (g *Guardian) RecordTick(price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ticks = append(g.ticks, price)
	limit := 5
	if len(g.ticks) > limit {
		g.ticks = g.ticks[len(g.ticks)-limit:]
	}
}

// Assess runs the full guard chain against a candidate entry and, if
// every guard approves, returns a sized stake.
func (g *Guardian) Assess(now time.Time) Assessment {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reasons []string

	if r := g.sessionGate(now); !r.Approved {
		reasons = append(reasons, r.Reason)
	}
	if r := g.dailyCapGuard(); !r.Approved {
		reasons = append(reasons, r.Reason)
	}
	if r := g.trainGuard(now); !r.Approved {
		reasons = append(reasons, r.Reason)
	}
	if r := g.drawdownGuard(now); !r.Approved {
		reasons = append(reasons, r.Reason)
	}

	if len(reasons) > 0 {
		return Assessment{Approved: false, Reasons: reasons}
	}

	return Assessment{Approved: true, StakeAmount: g.sizedStake()}
}

// sessionGate enforces the UTC trading-hours window plus the weekly
// maintenance blackout (Saturday 23:55 UTC through Sunday 00:05 UTC).
func (g *Guardian) sessionGate(now time.Time) GuardResult {
	if g.state.Paused && now.Before(g.state.PausedUntil) {
		return reject(g.state.PausedReason)
	}

	wd := now.Weekday()
	hm := now.Hour()*60 + now.Minute()
	if wd == time.Saturday && hm >= 23*60+55 {
		return reject("weekly maintenance window")
	}
	if wd == time.Sunday && hm < 5 {
		return reject("weekly maintenance window")
	}

	hour := now.Hour()
	if hour < g.ses.StartUTCHour || hour >= g.ses.EndUTCHour {
		return reject("outside trading session")
	}

	return approve()
}

// dailyCapGuard halts new entries once today's accumulated realized
// profit reaches the configured cap.
func (g *Guardian) dailyCapGuard() GuardResult {
	cap := decimal.NewFromFloat(g.cfg.DailyCapUSD)
	if g.state.Today.RealizedPnL.GreaterThanOrEqual(cap) {
		return reject("daily profit cap reached")
	}
	return approve()
}

// trainGuard detects a momentum burst — two consecutive rising tick
// deltas both exceeding the configured threshold — and pauses entries
// for TrainPauseMinutes when one fires. A sharp decline is not a
// train: only two consecutive rises count.
func (g *Guardian) trainGuard(now time.Time) GuardResult {
	if len(g.ticks) < 3 {
		return approve()
	}

	n := len(g.ticks)
	d1 := g.ticks[n-2].Sub(g.ticks[n-3])
	d2 := g.ticks[n-1].Sub(g.ticks[n-2])
	threshold := decimal.NewFromFloat(g.cfg.TrainDeltaThreshold)

	if d1.GreaterThan(threshold) && d2.GreaterThan(threshold) {
		g.state.Paused = true
		g.state.PausedUntil = now.Add(time.Duration(g.cfg.TrainPauseMinutes) * time.Minute)
		g.state.PausedReason = "train detected: momentum burst"
		log.Warn().
			Str("d1", d1.String()).
			Str("d2", d2.String()).
			Time("pausedUntil", g.state.PausedUntil).
			Msg("risk: train detector tripped")
		return reject(g.state.PausedReason)
	}

	return approve()
}

// TrainDetected reports whether the rolling tick buffer currently
// shows a momentum burst, without requiring the full guard chain —
// the strategy engine calls this on every tick to force-close an open
// position immediately, independent of whether a new entry is being
// considered.
func (g *Guardian) TrainDetected(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.trainGuard(now).Approved
}

// drawdownGuard rejects entries while balance sits at least the
// configured percentage below the highest balance observed within the
// configured window. The rejection is not latched: it lifts as soon as
// balance recovers above the threshold, or once the high watermark ages
// out of the window and is reset to the current balance.
func (g *Guardian) drawdownGuard(now time.Time) GuardResult {
	window := time.Duration(g.cfg.KillswitchWindowHours) * time.Hour
	if now.Sub(g.state.HighestAt) > window {
		// The high watermark itself has aged out of the window; reset
		// it to the current balance so an old peak can't keep tripping
		// the guard indefinitely.
		g.state.HighestBalance = g.state.Balance
		g.state.HighestAt = now
		return approve()
	}

	if g.state.HighestBalance.IsZero() {
		return approve()
	}

	drawdown := g.state.HighestBalance.Sub(g.state.Balance).Div(g.state.HighestBalance).Mul(decimal.NewFromInt(100))
	threshold := decimal.NewFromFloat(g.cfg.KillswitchDrawdownPct)
	if drawdown.GreaterThanOrEqual(threshold) {
		return reject("drawdown killswitch tripped")
	}
	return approve()
}

// sizedStake sizes the stake as RiskFraction of the current balance,
// floored at 1 so a depleted account doesn't round its stake to zero.
// The contract multiplier and the stop-loss distance do not enter the
// calculation.
func (g *Guardian) sizedStake() decimal.Decimal {
	fraction := decimal.NewFromFloat(g.cfg.RiskFraction)
	sized := g.state.Balance.Mul(fraction)

	minStake := decimal.NewFromFloat(1)
	if sized.LessThan(minStake) {
		return minStake
	}
	return sized
}

// DailyStatSnapshot returns today's accumulated stat for persistence
// upserts.
func (g *Guardian) DailyStatSnapshot() DailyStat {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Today
}
