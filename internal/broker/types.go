// Package broker defines the Deriv-style WebSocket wire protocol: the
// request envelopes the agent sends and the response/stream frames it
// receives back over the single duplexed socket.
package broker

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Known application error codes returned by the broker.
const (
	ErrCodeRateLimit             = "RateLimit"
	ErrCodeBuyLimitReached       = "buy_limit_reached"
	ErrCodeInvalidToken          = "InvalidToken"
	ErrCodeAuthorizationRequired = "AuthorizationRequired"
	ErrCodeMarketIsClosed        = "MarketIsClosed"
	ErrCodeInvalidSymbol         = "InvalidSymbol"
	ErrCodeInvalidGranularity    = "InvalidGranularity"
)

// ContractType mirrors the broker's multiplier contract types.
type ContractType string

const (
	ContractMultUp   ContractType = "MULTUP"
	ContractMultDown ContractType = "MULTDOWN"
)

// Error is the broker's application-level error object, carried on
// any frame (request response or stream) that failed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the shape every inbound frame shares: an optional
// req_id correlating it to a pending call, a msg_type for stream
// dispatch, and an optional error object.
type Envelope struct {
	ReqID   int64           `json:"req_id,omitempty"`
	MsgType string          `json:"msg_type,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// AuthorizeRequest authenticates the socket.
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id"`
}

// AuthorizeResponse carries the authorized account id.
type AuthorizeResponse struct {
	Authorize struct {
		UserID string `json:"user_id"`
		LoginID string `json:"loginid"`
	} `json:"authorize"`
}

// PingRequest is sent every 10s by the Link as a keepalive.
type PingRequest struct {
	Ping  int   `json:"ping"`
	ReqID int64 `json:"req_id"`
}

// TicksHistoryRequest subscribes to a rolling candle history for one
// timeframe, or to the raw tick stream when Style is empty.
type TicksHistoryRequest struct {
	TicksHistory string `json:"ticks_history"`
	Style        string `json:"style,omitempty"`
	Granularity  int    `json:"granularity,omitempty"`
	Count        int    `json:"count,omitempty"`
	Subscribe    int    `json:"subscribe,omitempty"`
	ReqID        int64  `json:"req_id"`
}

// TicksRequest subscribes to the raw quote stream for a symbol.
type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe,omitempty"`
	ReqID     int64  `json:"req_id"`
}

// LimitOrder is the broker-enforced TP/SL block attached to a
// proposal, offloading the close decision to the broker as a
// backstop alongside the engine's own manual tick-by-tick check.
type LimitOrder struct {
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
}

// ProposalRequest is step one of the buy flow: ask the broker to
// price a contract.
type ProposalRequest struct {
	Proposal     int             `json:"proposal"`
	Amount       decimal.Decimal `json:"amount"`
	Basis        string          `json:"basis"`
	ContractType ContractType    `json:"contract_type"`
	Currency     string          `json:"currency"`
	Symbol       string          `json:"symbol"`
	Multiplier   int             `json:"multiplier"`
	LimitOrder   *LimitOrder     `json:"limit_order,omitempty"`
	ReqID        int64           `json:"req_id"`
}

// ProposalResponse is the broker's priced quote for a proposal.
type ProposalResponse struct {
	Proposal struct {
		ID            string          `json:"id"`
		AskPrice      decimal.Decimal `json:"ask_price"`
		SpotTime      int64           `json:"spot_time"`
	} `json:"proposal"`
}

// BuyRequest confirms purchase of a priced proposal.
type BuyRequest struct {
	Buy   string          `json:"buy"`
	Price decimal.Decimal `json:"price"`
	ReqID int64           `json:"req_id"`
}

// BuyResponse confirms the contract was opened.
type BuyResponse struct {
	Buy struct {
		ContractID int64           `json:"contract_id"`
		BuyPrice   decimal.Decimal `json:"buy_price"`
		StartTime  int64           `json:"start_time"`
	} `json:"buy"`
}

// SellRequest requests a market close of an open contract.
type SellRequest struct {
	Sell  int64           `json:"sell"`
	Price decimal.Decimal `json:"price"`
	ReqID int64           `json:"req_id"`
}

// SellResponse confirms a contract was closed.
type SellResponse struct {
	Sell struct {
		ContractID int64           `json:"contract_id"`
		SoldFor    decimal.Decimal `json:"sold_for"`
	} `json:"sell"`
}

// BalanceRequest subscribes to account balance updates.
type BalanceRequest struct {
	Balance   int   `json:"balance"`
	Subscribe int   `json:"subscribe,omitempty"`
	ReqID     int64 `json:"req_id"`
}

// BalanceStream is an unsolicited balance push.
type BalanceStream struct {
	Balance struct {
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
	} `json:"balance"`
}

// ProposalOpenContractRequest subscribes to updates for a live
// contract (used to detect broker-side is_sold closes).
type ProposalOpenContractRequest struct {
	ProposalOpenContract int    `json:"proposal_open_contract"`
	ContractID           int64  `json:"contract_id,omitempty"`
	Subscribe            int    `json:"subscribe,omitempty"`
	ReqID                int64  `json:"req_id"`
}

// ProposalOpenContractStream is an unsolicited contract update.
type ProposalOpenContractStream struct {
	ProposalOpenContract struct {
		ContractID int64           `json:"contract_id"`
		IsSold     bool            `json:"is_sold"`
		SellPrice  decimal.Decimal `json:"sell_price"`
		Profit     *decimal.Decimal `json:"profit,omitempty"`
		BuyPrice   decimal.Decimal `json:"buy_price"`
	} `json:"proposal_open_contract"`
}

// TickStream is an unsolicited quote push.
type TickStream struct {
	Tick struct {
		Symbol string          `json:"symbol"`
		Quote  decimal.Decimal `json:"quote"`
		Epoch  int64           `json:"epoch"`
	} `json:"tick"`
}

// OHLCStream is an unsolicited candle push; a candle's Closed flag is
// derived by the caller from whether a subsequent update arrives with a new
// OpenTime, not carried on the wire.
type OHLCStream struct {
	OHLC struct {
		Symbol      string          `json:"symbol"`
		Granularity int             `json:"granularity"`
		OpenTime    int64           `json:"open_time"`
		Open        decimal.Decimal `json:"open"`
		High        decimal.Decimal `json:"high"`
		Low         decimal.Decimal `json:"low"`
		Close       decimal.Decimal `json:"close"`
	} `json:"ohlc"`
}
