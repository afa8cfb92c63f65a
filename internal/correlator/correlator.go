// Package correlator turns the Link's single duplexed socket into
// promise-shaped request/response calls while routing every
// unsolicited stream frame (ticks, candles, balance, contract
// updates) to registered handlers by msg_type.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deriv-trading/agent/internal/broker"
	"github.com/deriv-trading/agent/internal/models"
)

// DefaultTimeout is the per-call deadline.
const DefaultTimeout = 5 * time.Second

// Sender is satisfied by *link.Link; kept as an interface so the
// correlator can be unit-tested against a fake.
type Sender interface {
	Send(v interface{}) error
	NextReqID() int64
}

type pendingCall struct {
	resultCh chan callResult
	timer    *time.Timer
}

type callResult struct {
	raw json.RawMessage
	err error
}

// StreamHandler is invoked for every inbound frame of a given
// msg_type that carries no req_id.
type StreamHandler func(raw []byte)

// EscalationHandler is invoked for application errors escalated as
// named events, whether or not the frame carries a req_id; a frame
// with a req_id still resolves its pending call as well.
type EscalationHandler func(code, message string)

// Correlator dispatches inbound frames either to a pending call or
// to a registered stream handler.
type Correlator struct {
	sender Sender

	mu      sync.Mutex
	pending map[int64]*pendingCall
	streams map[string][]StreamHandler

	onEscalation EscalationHandler
}

// New creates a Correlator bound to the given Sender (normally the
// Link).
func New(sender Sender) *Correlator {
	return &Correlator{
		sender:  sender,
		pending: make(map[int64]*pendingCall),
		streams: make(map[string][]StreamHandler),
	}
}

// SetOnEscalation registers the callback for RateLimit,
// buy_limit_reached, and InvalidToken errors on any inbound frame,
// including responses to pending calls.
func (c *Correlator) SetOnEscalation(fn EscalationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEscalation = fn
}

// RegisterStream adds a handler for frames of the given msg_type
// that carry no req_id (tick, ohlc, balance, proposal_open_contract).
func (c *Correlator) RegisterStream(msgType string, handler StreamHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[msgType] = append(c.streams[msgType], handler)
}

// Call registers reqID as pending, runs send (which must write a
// request carrying that req_id, normally obtained from
// sender.NextReqID()) and blocks until a response with the matching
// req_id arrives or the deadline expires.
func (c *Correlator) Call(ctx context.Context, reqID int64, send func() error, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	pc := &pendingCall{resultCh: make(chan callResult, 1)}

	c.mu.Lock()
	c.pending[reqID] = pc
	c.mu.Unlock()

	pc.timer = time.AfterFunc(timeout, func() {
		c.resolve(reqID, callResult{err: models.ErrTimeout})
	})

	if err := send(); err != nil {
		c.cancelPending(reqID)
		return nil, err
	}

	select {
	case res := <-pc.resultCh:
		return res.raw, res.err
	case <-ctx.Done():
		c.cancelPending(reqID)
		return nil, ctx.Err()
	}
}

func (c *Correlator) cancelPending(reqID int64) {
	c.mu.Lock()
	pc, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.mu.Unlock()
	if ok && pc.timer != nil {
		pc.timer.Stop()
	}
}

func (c *Correlator) resolve(reqID int64, res callResult) {
	c.mu.Lock()
	pc, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.resultCh <- res
}

// CancelAll fails every outstanding call with LinkLost. Called by
// the orchestrator when the Link reconnects.
func (c *Correlator) CancelAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.resultCh <- callResult{err: models.ErrLinkLost}
	}
}

// OnMessage implements link.MessageHandler. It is called once per
// inbound frame, in arrival order.
func (c *Correlator) OnMessage(raw []byte) {
	var env broker.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Msg("correlator: malformed frame dropped")
		return
	}

	if env.MsgType == "authorize" {
		// Link owns the authorize handshake directly and already
		// inspected this frame before handing it to the correlator.
		return
	}

	if env.Error != nil {
		c.handleError(env, raw)
	}

	if env.ReqID != 0 {
		var res callResult
		res.raw = raw
		if env.Error != nil {
			res.err = errorFor(env.Error.Code, env.Error.Message)
		}
		c.resolve(env.ReqID, res)
		return
	}

	c.dispatchStream(env.MsgType, raw)
}

func (c *Correlator) handleError(env broker.Envelope, raw []byte) {
	switch env.Error.Code {
	case broker.ErrCodeRateLimit, broker.ErrCodeBuyLimitReached, broker.ErrCodeInvalidToken:
		c.mu.Lock()
		cb := c.onEscalation
		c.mu.Unlock()
		if cb != nil {
			cb(env.Error.Code, env.Error.Message)
		}
	default:
		log.Warn().Str("code", env.Error.Code).Str("message", env.Error.Message).Msg("correlator: application error")
	}
}

func (c *Correlator) dispatchStream(msgType string, raw []byte) {
	c.mu.Lock()
	handlers := append([]StreamHandler(nil), c.streams[msgType]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}

func errorFor(code, message string) error {
	switch code {
	case broker.ErrCodeRateLimit:
		return models.ErrRateLimit
	case broker.ErrCodeBuyLimitReached:
		return models.ErrBuyLimitReached
	case broker.ErrCodeInvalidToken:
		return models.ErrInvalidToken
	case broker.ErrCodeAuthorizationRequired:
		return models.ErrAuthorizationRequired
	case broker.ErrCodeMarketIsClosed:
		return models.ErrMarketIsClosed
	case broker.ErrCodeInvalidSymbol:
		return models.ErrInvalidSymbol
	case broker.ErrCodeInvalidGranularity:
		return models.ErrInvalidGranularity
	default:
		return fmt.Errorf("broker: %s: %s", code, message)
	}
}
