// Package orchestrator wires the Link, Correlator, MarketBook,
// RiskGuardian, Executor, and strategy Engine into a single running
// agent, and owns the process lifecycle (start, reconnect
// resubscription, graceful stop).
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/deriv-trading/agent/internal/broadcast"
	"github.com/deriv-trading/agent/internal/config"
	"github.com/deriv-trading/agent/internal/correlator"
	"github.com/deriv-trading/agent/internal/execution"
	"github.com/deriv-trading/agent/internal/link"
	"github.com/deriv-trading/agent/internal/marketbook"
	"github.com/deriv-trading/agent/internal/persistence"
	"github.com/deriv-trading/agent/internal/risk"
	"github.com/deriv-trading/agent/internal/strategy"
)

// Orchestrator owns every long-lived component and the single
// top-level context that governs the agent's lifetime.
type Orchestrator struct {
	cfg *config.Config

	link   *link.Link
	corr   *correlator.Correlator
	book   *marketbook.MarketBook
	guard  *risk.Guardian
	exec   *execution.Executor
	engine *strategy.Engine
	store  *persistence.Sink
	hub    *broadcast.Hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal     chan struct{}
	fatalOnce sync.Once
}

// New wires every component from cfg. store may be nil (persistence
// is optional); hub may be nil (the status API is optional).
func New(cfg *config.Config, store *persistence.Sink, hub *broadcast.Hub) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{cfg: cfg, store: store, hub: hub, ctx: ctx, cancel: cancel, fatal: make(chan struct{})}

	o.link = link.New(cfg.Broker.AppID, cfg.Broker.Token, nil,
		link.WithOnReady(o.onLinkReady),
		link.WithOnFatal(o.onLinkFatal),
	)
	o.corr = correlator.New(o.link)
	o.link.SetHandler(o.corr)

	o.book = marketbook.New(cfg.Trading.Symbol, marketbook.DefaultTimeframes, cfg.Trading.PrimaryTimeframe)
	o.book.RegisterStreams(o.corr)

	o.guard = risk.New(cfg.Risk, cfg.Session, decimal.Zero)

	o.exec = execution.New(o.corr, o.link, cfg.Trading.Symbol, "USD")
	o.exec.OnBalance(func(b execution.BalanceUpdate) {
		o.guard.UpdateBalance(b.Balance)
		o.publish("balance", b)
	})
	o.exec.OnFill(func(f execution.Fill) {
		o.publish("trade_opened", f)
		if o.store != nil {
			c := f.Contract
			if err := o.store.RecordEntry(c.ContractID, directionLabel(c.Direction), c.BuyPrice, c.Stake, c.Reason, time.Now()); err != nil {
				log.Warn().Err(err).Msg("orchestrator: failed to persist entry")
			}
		}
	})
	o.exec.OnClose(func(c execution.Close) {
		o.publish("trade_closed", c)
		if o.store != nil {
			if err := o.store.RecordExit(c.ContractID, c.SellPrice, c.Profit, c.Reason, time.Now()); err != nil {
				log.Warn().Err(err).Msg("orchestrator: failed to persist exit")
			}
			stat := o.guard.DailyStatSnapshot()
			if err := o.store.UpsertDailyStat(stat.Date, stat.RealizedPnL, stat.TradeCount); err != nil {
				log.Warn().Err(err).Msg("orchestrator: failed to persist daily stat")
			}
		}
	})

	o.corr.SetOnEscalation(func(code, message string) {
		o.engine.EscalationHandler(code, message)
		o.publish("escalation", map[string]string{"code": code, "message": message})
	})

	o.engine = strategy.New(cfg.Trading, cfg.Risk, o.guard, o.exec, o.book)
	o.engine.OnFatal(func(reason string) {
		o.triggerFatal(reason)
	})
	o.book.OnCandleClosed(func(granularity int, c marketbook.Candle) {
		o.publish("candle_closed", map[string]interface{}{"granularity": granularity, "candle": c})
	})
	o.book.OnIndicatorsUpdated(func(set marketbook.IndicatorSet) {
		o.publish("indicators_updated", set)
	})

	return o
}

// Start connects the link and begins the strategy engine's
// dispatcher loop. It returns once the initial connection attempt has
// been kicked off; failures after that are handled by the link's own
// reconnect loop.
func (o *Orchestrator) Start() error {
	o.engine.Run(o.ctx)
	return o.link.Connect(o.ctx)
}

// Stop tears the agent down: cancels the context, disconnects the
// link, and waits for the dispatcher to exit.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.link.Disconnect()
	o.engine.Stop()
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			log.Warn().Err(err).Msg("orchestrator: error closing persistence store")
		}
	}
	if o.hub != nil {
		o.hub.Close()
	}
}

// onLinkReady fires once authorize succeeds, on first connect and on
// every reconnect. It re-issues every subscription from scratch and
// fails any calls the correlator still had outstanding from before
// the drop.
func (o *Orchestrator) onLinkReady() {
	log.Info().Msg("orchestrator: link ready, (re)issuing subscriptions")
	o.corr.CancelAll()

	if err := o.book.Subscribe(o.link); err != nil {
		log.Error().Err(err).Msg("orchestrator: market data subscribe failed")
	}
	if err := o.exec.SubscribeBalance(o.ctx); err != nil {
		log.Error().Err(err).Msg("orchestrator: balance subscribe failed")
	}
}

// onLinkFatal handles an unrecoverable link error (an invalid token)
// by tearing the agent down and signaling main to exit the process
// with a non-zero status.
func (o *Orchestrator) onLinkFatal(err error) {
	log.Error().Err(err).Msg("orchestrator: fatal link error, stopping")
	o.triggerFatal(err.Error())
	o.Stop()
}

// Fatal returns a channel that closes the moment an unrecoverable
// condition (an invalid token, or a buy-limit rejection the guard
// chain cannot route around) is observed. main selects on it
// alongside the OS signal channel to exit with a non-zero status
// instead of hanging on a signal that will never arrive.
func (o *Orchestrator) Fatal() <-chan struct{} { return o.fatal }

// triggerFatal closes the Fatal channel exactly once.
func (o *Orchestrator) triggerFatal(reason string) {
	o.fatalOnce.Do(func() {
		log.Error().Str("reason", reason).Msg("orchestrator: fatal condition, process will exit")
		close(o.fatal)
	})
}

func (o *Orchestrator) publish(msgType string, data interface{}) {
	if o.hub != nil {
		o.hub.Publish(msgType, data)
	}
}

// Snapshot returns the engine's current state for the status API.
func (o *Orchestrator) Snapshot() strategy.Snapshot {
	return o.engine.Snapshot()
}

func directionLabel(d execution.Direction) string {
	if d == execution.DirectionDown {
		return "DOWN"
	}
	return "UP"
}
