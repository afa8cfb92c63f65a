package marketbook

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/deriv-trading/agent/internal/broker"
	"github.com/deriv-trading/agent/internal/correlator"
)

// TickHandler is called once per ingested tick, after CurrentPrice
// and MarketState have been updated.
type TickHandler func(price decimal.Decimal, epoch int64)

// CandleClosedHandler is called whenever a timeframe's forming
// candle closes.
type CandleClosedHandler func(granularity int, closed Candle)

// IndicatorsHandler is called after the SMA cluster is recomputed
// (primary timeframe candle closes only).
type IndicatorsHandler func(set IndicatorSet)

// MarketBook is the market-data aggregator: latest tick price and
// epoch, multi-timeframe candle books, and the incremental SMA cluster.
// Earlier ticks are not retained.
type MarketBook struct {
	symbol             string
	primaryGranularity int
	timeframes         []int

	mu           sync.RWMutex
	books        map[int]*CandleBook
	currentPrice decimal.Decimal
	lastEpoch    int64
	indicators   IndicatorSet
	marketState  MarketState

	onTick       []TickHandler
	onClose      []CandleClosedHandler
	onIndicators []IndicatorsHandler
}

// New creates a MarketBook for symbol, maintaining a candle book for
// every timeframe in timeframes; primaryGranularity selects which
// book drives the SMA cluster and MarketState.
func New(symbol string, timeframes []int, primaryGranularity int) *MarketBook {
	books := make(map[int]*CandleBook, len(timeframes))
	for _, tf := range timeframes {
		books[tf] = newCandleBook(tf)
	}
	return &MarketBook{
		symbol:             symbol,
		primaryGranularity: primaryGranularity,
		timeframes:         timeframes,
		books:              books,
	}
}

// OnTick registers a tick event subscriber.
func (m *MarketBook) OnTick(fn TickHandler) { m.onTick = append(m.onTick, fn) }

// OnCandleClosed registers a candle-closed event subscriber.
func (m *MarketBook) OnCandleClosed(fn CandleClosedHandler) { m.onClose = append(m.onClose, fn) }

// OnIndicatorsUpdated registers an indicator-update event subscriber.
func (m *MarketBook) OnIndicatorsUpdated(fn IndicatorsHandler) { m.onIndicators = append(m.onIndicators, fn) }

// RegisterStreams wires the MarketBook's tick/OHLC frame parsers
// into the correlator's stream dispatch table.
func (m *MarketBook) RegisterStreams(c *correlator.Correlator) {
	c.RegisterStream("tick", m.handleTickFrame)
	c.RegisterStream("candles", m.handleOHLCFrame)
	c.RegisterStream("ohlc", m.handleOHLCFrame)
}

// Subscribe (re)issues the tick stream and per-timeframe
// ticks_history subscriptions. Called on every (re)connect after
// authorize, so no history gap opens across a reconnect.
func (m *MarketBook) Subscribe(sender correlator.Sender) error {
	ticksReq := broker.TicksRequest{Ticks: m.symbol, Subscribe: 1, ReqID: sender.NextReqID()}
	if err := sender.Send(ticksReq); err != nil {
		return err
	}

	for _, tf := range m.timeframes {
		req := broker.TicksHistoryRequest{
			TicksHistory: m.symbol,
			Style:        "candles",
			Granularity:  tf,
			Count:        maxCandlesPerTimeframe,
			Subscribe:    1,
			ReqID:        sender.NextReqID(),
		}
		if err := sender.Send(req); err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketBook) handleTickFrame(raw []byte) {
	var frame broker.TickStream
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn().Err(err).Msg("marketbook: malformed tick frame")
		return
	}
	m.ingestTick(frame.Tick.Quote, frame.Tick.Epoch)
}

func (m *MarketBook) handleOHLCFrame(raw []byte) {
	var frame broker.OHLCStream
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn().Err(err).Msg("marketbook: malformed ohlc frame")
		return
	}
	o := frame.OHLC
	m.ingestCandle(o.Granularity, Candle{
		OpenEpoch:   o.OpenTime,
		Granularity: o.Granularity,
		Open:        o.Open,
		High:        o.High,
		Low:         o.Low,
		Close:       o.Close,
	})
}

// ingestTick updates CurrentPrice/MarketState and fires the tick
// event.
func (m *MarketBook) ingestTick(price decimal.Decimal, epoch int64) {
	m.mu.Lock()
	m.currentPrice = price
	m.lastEpoch = epoch
	m.marketState = m.computeMarketState(price)
	handlers := append([]TickHandler(nil), m.onTick...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(price, epoch)
	}
}

// ingestCandle folds an OHLC update into the timeframe's book. If it
// closes the previous forming candle, the candle_closed event fires,
// and — for the primary timeframe — indicators are recomputed.
func (m *MarketBook) ingestCandle(granularity int, update Candle) {
	m.mu.Lock()
	book, ok := m.books[granularity]
	if !ok {
		m.mu.Unlock()
		log.Warn().Int("granularity", granularity).Msg("marketbook: candle for unknown timeframe")
		return
	}

	result := book.ingest(update)
	closeHandlers := append([]CandleClosedHandler(nil), m.onClose...)

	var indicatorHandlers []IndicatorsHandler
	var newIndicators IndicatorSet
	indicatorsChanged := false

	if result.closed && granularity == m.primaryGranularity {
		newIndicators = recomputeIndicators(book.closedCloses())
		m.indicators = newIndicators
		indicatorHandlers = append([]IndicatorsHandler(nil), m.onIndicators...)
		indicatorsChanged = true
	}
	m.mu.Unlock()

	if result.closed {
		for _, h := range closeHandlers {
			h(granularity, result.closedCandle)
		}
	}
	if indicatorsChanged {
		for _, h := range indicatorHandlers {
			h(newIndicators)
		}
	}
}

// computeMarketState implements the MarketState rule.
// Callers must hold m.mu.
func (m *MarketBook) computeMarketState(price decimal.Decimal) MarketState {
	if !m.indicators.Defined() {
		return StateRestricted
	}
	if price.LessThan(*m.indicators.SMA50) &&
		price.LessThan(*m.indicators.SMA100) &&
		price.LessThan(*m.indicators.SMA200) {
		return StatePermissive
	}
	return StateRestricted
}

// CurrentPrice returns the latest ingested tick price.
func (m *MarketBook) CurrentPrice() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentPrice
}

// Indicators returns the current SMA cluster.
func (m *MarketBook) Indicators() IndicatorSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indicators
}

// MarketState returns the current market state, recomputed on the
// last tick.
func (m *MarketBook) MarketState() MarketState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marketState
}

// MarketStateFor computes MarketState for a hypothetical price
// against the current indicator cluster without mutating state. The
// StrategyEngine uses this to re-check the post-tick state within a
// single tick handler before deciding whether to act.
func (m *MarketBook) MarketStateFor(price decimal.Decimal) MarketState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.computeMarketState(price)
}
