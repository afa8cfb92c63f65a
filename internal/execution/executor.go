// Package execution drives the broker's two-phase order flow
// (proposal, then buy), tracks open contracts through to close, and
// streams balance updates to interested callers.
package execution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/deriv-trading/agent/internal/broker"
	"github.com/deriv-trading/agent/internal/correlator"
	"github.com/deriv-trading/agent/internal/models"
)

// Executor owns the open-contract table and issues proposal/buy/sell
// calls through the correlator.
type Executor struct {
	corr     *correlator.Correlator
	sender   correlator.Sender
	symbol   string
	currency string

	mu        sync.Mutex
	open      map[int64]*Contract

	onFill    []func(Fill)
	onClose   []func(Close)
	onBalance []func(BalanceUpdate)
}

// New creates an Executor bound to the given correlator/sender pair
// and registers its stream handlers (balance, proposal_open_contract).
func New(corr *correlator.Correlator, sender correlator.Sender, symbol, currency string) *Executor {
	e := &Executor{
		corr:     corr,
		sender:   sender,
		symbol:   symbol,
		currency: currency,
		open:     make(map[int64]*Contract),
	}
	corr.RegisterStream("balance", e.handleBalanceFrame)
	corr.RegisterStream("proposal_open_contract", e.handleContractFrame)
	return e
}

// OnFill registers a callback invoked once a buy confirms.
func (e *Executor) OnFill(fn func(Fill)) { e.onFill = append(e.onFill, fn) }

// OnClose registers a callback invoked once a contract closes, by
// either path (agent-initiated sell or broker-reported is_sold).
func (e *Executor) OnClose(fn func(Close)) { e.onClose = append(e.onClose, fn) }

// OnBalance registers a callback invoked on every balance frame.
func (e *Executor) OnBalance(fn func(BalanceUpdate)) { e.onBalance = append(e.onBalance, fn) }

// SubscribeBalance issues the balance subscription. Re-issued on
// every reconnect alongside the market data subscriptions.
func (e *Executor) SubscribeBalance(ctx context.Context) error {
	req := broker.BalanceRequest{Balance: 1, Subscribe: 1, ReqID: e.sender.NextReqID()}
	_, err := e.corr.Call(ctx, req.ReqID, func() error { return e.sender.Send(req) }, correlator.DefaultTimeout)
	return err
}

// Open runs the proposal→buy sequence for a new multiplier position
// and, on success, starts tracking the resulting contract. The
// broker-side limit order (p.BrokerTakeProfit/p.BrokerStopLoss) is a
// backstop only — the strategy engine's own per-tick check against
// fixed point-distances from the entry price is the primary exit
// authority and never reads these fields back from the Contract.
func (e *Executor) Open(ctx context.Context, p OpenParams) (*Contract, error) {
	contractType := broker.ContractMultUp
	if p.Direction == DirectionDown {
		contractType = broker.ContractMultDown
	}

	propReq := broker.ProposalRequest{
		Proposal:     1,
		Amount:       p.Stake,
		Basis:        "stake",
		ContractType: contractType,
		Currency:     e.currency,
		Symbol:       e.symbol,
		Multiplier:   p.Multiplier,
		LimitOrder:   &broker.LimitOrder{TakeProfit: p.BrokerTakeProfit, StopLoss: p.BrokerStopLoss},
		ReqID:        e.sender.NextReqID(),
	}

	raw, err := e.corr.Call(ctx, propReq.ReqID, func() error { return e.sender.Send(propReq) }, correlator.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	var propResp broker.ProposalResponse
	if err := json.Unmarshal(raw, &propResp); err != nil {
		return nil, err
	}

	buyReq := broker.BuyRequest{
		Buy:   propResp.Proposal.ID,
		Price: propResp.Proposal.AskPrice,
		ReqID: e.sender.NextReqID(),
	}

	raw, err = e.corr.Call(ctx, buyReq.ReqID, func() error { return e.sender.Send(buyReq) }, correlator.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	var buyResp broker.BuyResponse
	if err := json.Unmarshal(raw, &buyResp); err != nil {
		return nil, err
	}

	contract := &Contract{
		ContractID: buyResp.Buy.ContractID,
		Direction:  p.Direction,
		BuyPrice:   buyResp.Buy.BuyPrice,
		Stake:      p.Stake,
		Reason:     p.Reason,
	}

	e.mu.Lock()
	e.open[contract.ContractID] = contract
	e.mu.Unlock()

	// Subscribe to this contract's lifecycle so a broker-side close
	// (take-profit/stop-loss hit, or expiry) is observed even if the
	// agent never issues its own sell.
	subReq := broker.ProposalOpenContractRequest{
		ProposalOpenContract: 1,
		ContractID:           contract.ContractID,
		Subscribe:             1,
		ReqID:                 e.sender.NextReqID(),
	}
	if err := e.sender.Send(subReq); err != nil {
		log.Warn().Err(err).Int64("contractId", contract.ContractID).Msg("execution: failed to subscribe contract updates")
	}

	for _, h := range e.onFill {
		h(Fill{Contract: *contract})
	}

	return contract, nil
}

// Close sells an open contract at market. The manual sell is the
// sole path the strategy engine uses to exit early; the broker's
// limit_order (take-profit/stop-loss) only fires as a backstop when
// the agent itself isn't watching the price closely enough to beat it
// there — both paths converge on the same handleClose bookkeeping, so
// a contract is never closed twice.
func (e *Executor) Close(ctx context.Context, contractID int64, reason string) (*Close, error) {
	e.mu.Lock()
	_, tracked := e.open[contractID]
	e.mu.Unlock()
	if !tracked {
		return nil, models.ErrNoOpenContract
	}

	req := broker.SellRequest{Sell: contractID, Price: decimal.Zero, ReqID: e.sender.NextReqID()}
	raw, err := e.corr.Call(ctx, req.ReqID, func() error { return e.sender.Send(req) }, correlator.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	var resp broker.SellResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}

	return e.handleClose(contractID, resp.Sell.SoldFor, nil, reason), nil
}

// handleClose removes the contract from the open table, computes
// profit (preferring the broker's own profit figure when available),
// and fires the close event exactly once.
func (e *Executor) handleClose(contractID int64, sellPrice decimal.Decimal, brokerProfit *decimal.Decimal, reason string) *Close {
	e.mu.Lock()
	contract, ok := e.open[contractID]
	if ok {
		delete(e.open, contractID)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}

	profit := sellPrice.Sub(contract.BuyPrice)
	if brokerProfit != nil {
		profit = *brokerProfit
	}

	event := Close{ContractID: contractID, SellPrice: sellPrice, Profit: profit, Reason: reason, ClosedAt: time.Now()}

	for _, h := range e.onClose {
		h(event)
	}
	return &event
}

// OpenContracts returns a snapshot of the currently tracked open
// contracts (0 or 1 under the strategy engine's invariant, but the
// table itself makes no such assumption).
func (e *Executor) OpenContracts() []Contract {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Contract, 0, len(e.open))
	for _, c := range e.open {
		out = append(out, *c)
	}
	return out
}

func (e *Executor) handleBalanceFrame(raw []byte) {
	var frame broker.BalanceStream
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn().Err(err).Msg("execution: malformed balance frame")
		return
	}
	update := BalanceUpdate{Balance: frame.Balance.Balance, Currency: frame.Balance.Currency}
	for _, h := range e.onBalance {
		h(update)
	}
}

func (e *Executor) handleContractFrame(raw []byte) {
	var frame broker.ProposalOpenContractStream
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn().Err(err).Msg("execution: malformed contract frame")
		return
	}
	poc := frame.ProposalOpenContract
	if !poc.IsSold {
		return
	}
	e.handleClose(poc.ContractID, poc.SellPrice, poc.Profit, ReasonBrokerSold)
}
