package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// GuardResult is the outcome of one guard in the chain. A trade is
// approved only when every guard approves.
type GuardResult struct {
	Approved bool
	Reason   string
}

func approve() GuardResult { return GuardResult{Approved: true} }

func reject(reason string) GuardResult {
	return GuardResult{Approved: false, Reason: reason}
}

// Assessment is the composed result of the full guard chain plus the
// sized stake for an approved trade.
type Assessment struct {
	Approved    bool
	Reasons     []string
	StakeAmount decimal.Decimal
}

// DailyStat accumulates realized profit for one UTC calendar day.
type DailyStat struct {
	Date         string // YYYY-MM-DD, UTC
	RealizedPnL  decimal.Decimal
	TradeCount   int
}

// AccountState is the mutable state the guard chain reads and the
// orchestrator keeps current from balance/contract streams.
type AccountState struct {
	Balance        decimal.Decimal
	HighestBalance decimal.Decimal
	HighestAt      time.Time
	Today          DailyStat
	Paused         bool
	PausedUntil    time.Time
	PausedReason   string
}
