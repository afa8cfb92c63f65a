// Package marketbook aggregates the raw tick/candle stream into the
// latest tick, per-timeframe candle books, and an incrementally-updated
// SMA cluster. Only the most recent tick is kept; there is no rolling
// tick buffer here.
package marketbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supported timeframes, in seconds.
const (
	Timeframe1m  = 60
	Timeframe5m  = 300
	Timeframe15m = 900
	Timeframe1h  = 3600
)

// DefaultTimeframes is the full candle-book set the agent maintains.
var DefaultTimeframes = []int{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h}

// maxCandlesPerTimeframe bounds each CandleBook's array.
const maxCandlesPerTimeframe = 300

// Candle is a single OHLC bar. Closed candles are immutable; at most
// one forming candle exists per timeframe at any instant.
type Candle struct {
	OpenEpoch   int64
	Granularity int
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Closed      bool
}

// Tick is a single timestamped quote.
type Tick struct {
	Epoch int64
	Price decimal.Decimal
}

// MarketState is computed fresh on every tick from the SMA cluster.
type MarketState int

const (
	// StateRestricted is the safe default: held whenever any SMA is
	// undefined or price is not strictly below all three.
	StateRestricted MarketState = iota
	StatePermissive
)

func (s MarketState) String() string {
	if s == StatePermissive {
		return "PERMISSIVE"
	}
	return "RESTRICTED"
}

// IndicatorSet is the derived SMA cluster, computed only over closed
// candles of the primary timeframe.
type IndicatorSet struct {
	SMA25  *decimal.Decimal
	SMA50  *decimal.Decimal
	SMA100 *decimal.Decimal
	SMA200 *decimal.Decimal
}

// Defined reports whether SMA50, SMA100, and SMA200 are all present
// — the minimum the MarketState computation requires.
func (s IndicatorSet) Defined() bool {
	return s.SMA50 != nil && s.SMA100 != nil && s.SMA200 != nil
}

// epochNow is a seam for tests; production code always uses
// time.Now().Unix().
var epochNow = func() int64 { return time.Now().Unix() }
