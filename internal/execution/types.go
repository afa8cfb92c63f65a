package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the contract side the strategy engine requested.
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
)

// Trigger/close reasons, persisted alongside each TradeRecord and
// forwarded to the broadcast sink. Entry reasons describe why the
// strategy engine opened a position; close reasons describe why it
// (or the broker) closed one.
const (
	ReasonPermissiveSpike = "PERMISSIVE_SPIKE"
	ReasonTakeProfit      = "TAKE_PROFIT"
	ReasonStopLoss        = "STOP_LOSS"
	ReasonTrainDetected   = "TRAIN_DETECTED"
	ReasonRestrictedState = "RESTRICTED_STATE"
	ReasonCrossoverGuard  = "CROSSOVER_GUARD"
	ReasonBrokerSold      = "BROKER_SOLD"
)

// Contract tracks one open multiplier position from buy through
// close.
type Contract struct {
	ContractID  int64
	Direction   Direction
	BuyPrice    decimal.Decimal
	Stake       decimal.Decimal
	Reason      string // why the position was opened, e.g. ReasonPermissiveSpike
	OpenedAt    time.Time
	IsSold      bool
	SellPrice   decimal.Decimal
	Profit      decimal.Decimal
	CloseReason string
	ClosedAt    time.Time
}

// OpenParams bundles a new position's broker-facing and engine-facing
// parameters. BrokerTakeProfit/BrokerStopLoss are monetary limits sent
// to the broker's own limit_order, which only acts as a backstop; the
// engine's own per-tick check (driven by fixed point-distances from
// the entry price) is the primary exit authority and never reads
// these fields back.
type OpenParams struct {
	Direction        Direction
	Stake            decimal.Decimal
	BrokerTakeProfit decimal.Decimal
	BrokerStopLoss   decimal.Decimal
	Multiplier       int
	Reason           string
}

// Fill is emitted once a buy request is confirmed.
type Fill struct {
	Contract Contract
}

// Close is emitted once a contract is sold, whether by the agent's
// own sell request or by the broker reporting is_sold on the
// proposal_open_contract stream.
type Close struct {
	ContractID int64
	SellPrice  decimal.Decimal
	Profit     decimal.Decimal
	Reason     string
	ClosedAt   time.Time
}

// BalanceUpdate is emitted on every balance stream frame.
type BalanceUpdate struct {
	Balance  decimal.Decimal
	Currency string
}
