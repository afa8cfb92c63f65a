package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/deriv-trading/agent/internal/execution"
	"github.com/deriv-trading/agent/internal/marketbook"
)

// event is the mailbox's single envelope type. Exactly one goroutine
// (the dispatcher) ever reads from the mailbox, so no field here
// needs its own lock.
type event struct {
	kind evtKind

	price       decimal.Decimal
	epoch       int64
	granularity int
	candle      marketbook.Candle
	indicators  marketbook.IndicatorSet
	fill        execution.Fill
	closeEvt    execution.Close
	escCode     string
	escMessage  string
	execErr     error
}

type evtKind int

const (
	evtTick evtKind = iota
	evtCandleClosed
	evtIndicatorsUpdated
	evtTradeOpened
	evtTradeClosed
	evtEscalation
	evtExecutionError
)

// State is the engine's externally visible phase.
type State int

const (
	StateIdle State = iota
	StateEntering
	StateInPosition
	StateExiting
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateEntering:
		return "ENTERING"
	case StateInPosition:
		return "IN_POSITION"
	case StateExiting:
		return "EXITING"
	case StatePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a read-only view of the engine's current state, for the
// status API and broadcast sink.
type Snapshot struct {
	State       State
	OpenContract *execution.Contract
	LastSignal  time.Time
	MarketState marketbook.MarketState
}
