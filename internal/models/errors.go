package models

import "errors"

var (
	// Link / transport errors
	ErrNotConnected = errors.New("link: not connected")
	ErrLinkLost     = errors.New("link: connection lost")
	ErrTimeout      = errors.New("correlator: call timed out")

	// Broker business errors (see internal/broker error codes)
	ErrInvalidToken         = errors.New("broker: invalid token")
	ErrAuthorizationRequired = errors.New("broker: authorization required")
	ErrRateLimit            = errors.New("broker: rate limited")
	ErrBuyLimitReached      = errors.New("broker: buy limit reached")
	ErrMarketIsClosed       = errors.New("broker: market is closed")
	ErrInvalidSymbol        = errors.New("broker: invalid symbol")
	ErrInvalidGranularity   = errors.New("broker: invalid granularity")

	// Execution / trade lifecycle errors
	ErrNoOpenContract  = errors.New("execution: no open contract for id")
	ErrTradeInFlight   = errors.New("strategy: a trade is already in flight")
	ErrUnknownContract = errors.New("strategy: contract id not tracked")

	// Persistence errors
	ErrPersistenceUnavailable = errors.New("persistence: sink unavailable")

	// Config errors
	ErrMissingAppID = errors.New("config: APP_ID is required")
	ErrMissingToken = errors.New("config: DERIV_TOKEN is required")
)
