// Package strategy implements the single state machine that decides
// when to enter and exit a position. It runs on exactly one
// dispatcher goroutine: every other component (the link's reader, the
// market book, the executor) only ever enqueues an event onto the
// engine's mailbox — nothing but the dispatcher goroutine touches the
// engine's state, so the at-most-one-open-trade invariant needs no
// additional locking.
package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/deriv-trading/agent/internal/config"
	"github.com/deriv-trading/agent/internal/execution"
	"github.com/deriv-trading/agent/internal/marketbook"
	"github.com/deriv-trading/agent/internal/risk"
)

const mailboxCapacity = 256

// Engine is the tick-driven strategy state machine.
type Engine struct {
	cfg             config.TradingConfig
	cooldownMinutes int
	spikeThreshold  decimal.Decimal
	takeProfitPts   decimal.Decimal
	stopLossPts     decimal.Decimal
	guard           *risk.Guardian
	exec            *execution.Executor
	book            *marketbook.MarketBook

	mailbox chan event
	done    chan struct{}

	onFatal func(reason string)

	// dispatcher-owned state — never touched outside run()
	state              State
	openContract       *execution.Contract
	lastEntryAt        time.Time
	lastCrossover      time.Time
	previousPrice      decimal.Decimal
	havePreviousPrice  bool
	prevIndicators     marketbook.IndicatorSet
	havePrevIndicators bool
}

// New wires an Engine to its collaborators and registers the market
// book / executor callbacks that feed its mailbox.
func New(cfg config.TradingConfig, riskCfg config.RiskConfig, guard *risk.Guardian, exec *execution.Executor, book *marketbook.MarketBook) *Engine {
	e := &Engine{
		cfg:             cfg,
		cooldownMinutes: riskCfg.CooldownMinutesCrossover,
		spikeThreshold:  decimal.NewFromFloat(riskCfg.TrainDeltaThreshold),
		takeProfitPts:   decimal.NewFromFloat(cfg.TakeProfitPoints),
		stopLossPts:     decimal.NewFromFloat(cfg.StopLossPoints),
		guard:           guard,
		exec:            exec,
		book:            book,
		mailbox:         make(chan event, mailboxCapacity),
		done:            make(chan struct{}),
		state:           StateIdle,
	}

	book.OnTick(func(price decimal.Decimal, epoch int64) {
		e.enqueue(event{kind: evtTick, price: price, epoch: epoch})
	})
	book.OnCandleClosed(func(granularity int, candle marketbook.Candle) {
		e.enqueue(event{kind: evtCandleClosed, granularity: granularity, candle: candle})
	})
	book.OnIndicatorsUpdated(func(set marketbook.IndicatorSet) {
		e.enqueue(event{kind: evtIndicatorsUpdated, indicators: set})
	})
	exec.OnFill(func(f execution.Fill) {
		e.enqueue(event{kind: evtTradeOpened, fill: f})
	})
	exec.OnClose(func(c execution.Close) {
		e.enqueue(event{kind: evtTradeClosed, closeEvt: c})
	})

	return e
}

// OnFatal registers the callback invoked when the engine observes a
// condition that requires the whole process to terminate (a
// buy-limit rejection the guard chain cannot route around). Only one
// callback is supported; a later call replaces an earlier one.
func (e *Engine) OnFatal(fn func(reason string)) { e.onFatal = fn }

// enqueue drops the event with a warning rather than blocking the
// sender if the mailbox is saturated — a stalled dispatcher must
// never back up the link's reader goroutine.
func (e *Engine) enqueue(ev event) {
	select {
	case e.mailbox <- ev:
	default:
		log.Warn().Int("kind", int(ev.kind)).Msg("strategy: mailbox full, dropping event")
	}
}

// EscalationHandler is the correlator.EscalationHandler adapter for
// rate_limit/buy_limit_reached notifications.
func (e *Engine) EscalationHandler(code, message string) {
	e.enqueue(event{kind: evtEscalation, escCode: code, escMessage: message})
}

// Run starts the dispatcher goroutine. It exits when ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	go e.run(ctx)
}

// Stop waits for the dispatcher to exit. It does not signal the
// dispatcher itself: the dispatcher exits when the ctx passed to Run is
// canceled.
func (e *Engine) Stop() {
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.mailbox:
			e.dispatch(ctx, ev)
		}
	}
}

// dispatch processes one event to completion before the next is read
// — the ordering a single-threaded state machine assumes.
func (e *Engine) dispatch(ctx context.Context, ev event) {
	switch ev.kind {
	case evtTick:
		e.onTick(ctx, ev.price, ev.epoch)
	case evtCandleClosed:
		// Candle closes update the book; nothing to act on directly
		// until indicators recompute.
	case evtIndicatorsUpdated:
		e.onIndicatorsUpdated(ctx, ev.indicators)
	case evtTradeOpened:
		e.onTradeOpened(ev.fill)
	case evtTradeClosed:
		e.onTradeClosed(ev.closeEvt)
	case evtEscalation:
		e.onEscalation(ev.escCode, ev.escMessage)
	case evtExecutionError:
		log.Error().Err(ev.execErr).Msg("strategy: execution error")
		e.state = StateIdle
	}
}

// onTick runs the per-tick evaluation order: feed the train detector
// first (a detected train force-closes everything and ends the tick
// right there), then take-profit/stop-loss on any open contract, then
// — once a previous price is available — recompute market state and
// either consider a new entry on a permissive spike or force-close on
// a restricted transition.
func (e *Engine) onTick(ctx context.Context, price decimal.Decimal, epoch int64) {
	e.guard.RecordTick(price)

	if e.guard.TrainDetected(time.Now().UTC()) {
		e.forceCloseAll(ctx, execution.ReasonTrainDetected)
		e.previousPrice = price
		e.havePreviousPrice = true
		return
	}

	if e.state == StateInPosition && e.openContract != nil {
		e.checkExit(ctx, price)
	}

	previous := e.previousPrice
	havePrevious := e.havePreviousPrice
	e.previousPrice = price
	e.havePreviousPrice = true

	if !havePrevious {
		return
	}

	if !e.lastCrossover.IsZero() {
		cd := time.Duration(e.cooldownMinutes) * time.Minute
		if time.Since(e.lastCrossover) < cd {
			return
		}
	}

	marketState := e.book.MarketStateFor(price)

	if marketState == marketbook.StatePermissive {
		delta := price.Sub(previous)
		if delta.GreaterThan(e.spikeThreshold) && e.state == StateIdle {
			// Re-check post-tick state: the spike itself may have
			// already flipped the book restricted.
			if e.book.MarketStateFor(price) == marketbook.StatePermissive {
				e.considerEntry(ctx, price, marketState)
			}
		}
	}

	if marketState == marketbook.StateRestricted && e.state == StateInPosition && e.openContract != nil {
		e.forceCloseAll(ctx, execution.ReasonRestrictedState)
	}
}

// checkExit enforces manual take-profit/stop-loss as the primary
// authority: the broker's own limit_order only fires as a backstop,
// so the engine must beat it to the sell whenever it can observe the
// threshold crossing here first. TP/SL are fixed point-distances from
// the entry price, direction-aware: a short (MULTDOWN) profits as
// price falls, a long (MULTUP) profits as price rises.
func (e *Engine) checkExit(ctx context.Context, price decimal.Decimal) {
	c := e.openContract

	var diff decimal.Decimal
	if c.Direction == execution.DirectionDown {
		diff = c.BuyPrice.Sub(price)
	} else {
		diff = price.Sub(c.BuyPrice)
	}

	var reason string
	switch {
	case diff.GreaterThanOrEqual(e.takeProfitPts):
		reason = execution.ReasonTakeProfit
	case diff.Neg().GreaterThanOrEqual(e.stopLossPts):
		reason = execution.ReasonStopLoss
	default:
		return
	}

	e.state = StateExiting
	if _, err := e.exec.Close(ctx, c.ContractID, reason); err != nil {
		log.Warn().Err(err).Int64("contractId", c.ContractID).Msg("strategy: manual close failed, awaiting broker-side close")
		e.state = StateInPosition
	}
}

// onIndicatorsUpdated detects an upward crossover of SMA25 over SMA50
// or SMA100 and, on a genuine crossover, force-closes every open
// contract with reason CROSSOVER_GUARD and starts the cooldown. A
// bare MarketState flip with no crossover is not a trigger.
func (e *Engine) onIndicatorsUpdated(ctx context.Context, set marketbook.IndicatorSet) {
	if e.havePrevIndicators && crossedUp(e.prevIndicators, set) {
		e.forceCloseAll(ctx, execution.ReasonCrossoverGuard)
		e.lastCrossover = time.Now()
	}
	e.prevIndicators = set
	e.havePrevIndicators = true
}

// crossedUp reports whether SMA25 crossed upward over SMA50 or SMA100
// between prev and new: prev.sma25 <= prev.smaK and new.sma25 >
// new.smaK, for K in {50, 100}.
func crossedUp(prev, next marketbook.IndicatorSet) bool {
	if prev.SMA25 == nil || next.SMA25 == nil {
		return false
	}
	check := func(prevK, nextK *decimal.Decimal) bool {
		if prevK == nil || nextK == nil {
			return false
		}
		return prev.SMA25.LessThanOrEqual(*prevK) && next.SMA25.GreaterThan(*nextK)
	}
	return check(prev.SMA50, next.SMA50) || check(prev.SMA100, next.SMA100)
}

// forceCloseAll sells every tracked open contract with the given
// reason. Under the engine's at-most-one-open-trade invariant this is
// normally zero or one contract, but it makes no such assumption.
func (e *Engine) forceCloseAll(ctx context.Context, reason string) {
	for _, c := range e.exec.OpenContracts() {
		if _, err := e.exec.Close(ctx, c.ContractID, reason); err != nil {
			log.Warn().Err(err).Int64("contractId", c.ContractID).Str("reason", reason).Msg("strategy: force close failed")
		}
	}
	if e.state == StateInPosition || e.state == StateEntering {
		e.state = StateExiting
	}
}

// considerEntry opens a short (MULTDOWN) position on a permissive
// spike, the only entry signal this agent trades.
func (e *Engine) considerEntry(ctx context.Context, price decimal.Decimal, marketState marketbook.MarketState) {
	assessment := e.guard.Assess(time.Now().UTC())
	if !assessment.Approved {
		return
	}

	e.state = StateEntering
	e.lastEntryAt = time.Now()

	brokerTakeProfit := assessment.StakeAmount.Mul(decimal.NewFromFloat(e.cfg.TakeProfitMultiplier))
	brokerStopLoss := assessment.StakeAmount.Mul(decimal.NewFromFloat(e.cfg.StopLossMultiplier))

	params := execution.OpenParams{
		Direction:        execution.DirectionDown,
		Stake:            assessment.StakeAmount,
		BrokerTakeProfit: brokerTakeProfit,
		BrokerStopLoss:   brokerStopLoss,
		Multiplier:       e.cfg.Multiplier,
		Reason:           execution.ReasonPermissiveSpike,
	}

	_, err := e.exec.Open(ctx, params)
	if err != nil {
		log.Warn().Err(err).Msg("strategy: entry failed")
		e.state = StateIdle
	}
}

func (e *Engine) onTradeOpened(f execution.Fill) {
	c := f.Contract
	e.openContract = &c
	e.state = StateInPosition
}

func (e *Engine) onTradeClosed(c execution.Close) {
	if e.openContract == nil || e.openContract.ContractID != c.ContractID {
		return
	}
	e.guard.RecordTrade(c.Profit)
	e.openContract = nil
	e.state = StateIdle
}

func (e *Engine) onEscalation(code, message string) {
	log.Warn().Str("code", code).Str("message", message).Msg("strategy: broker escalation")
	switch code {
	case "RateLimit":
		e.state = StatePaused
	case "buy_limit_reached":
		if e.onFatal != nil {
			e.onFatal(message)
		}
	}
}

// Snapshot returns a read-only view for the status API. Safe to call
// from any goroutine: it only reads fields that, by construction, are
// only ever written by the dispatcher, so a stale read is the worst
// case, not a race.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		State:        e.state,
		OpenContract: e.openContract,
		LastSignal:   e.lastEntryAt,
		MarketState:  e.book.MarketState(),
	}
}
