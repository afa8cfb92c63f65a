// Package link owns the single WebSocket connection to the broker:
// dial, authorize, heartbeat, and exponential-backoff reconnect. It
// never interprets payloads beyond the authorize handshake — every
// parsed frame is handed to a MessageHandler (the correlator) exactly
// once, in arrival order.
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/deriv-trading/agent/internal/broker"
	"github.com/deriv-trading/agent/internal/models"
)

const wsBaseURL = "wss://ws.derivws.com/websockets/v3"

// MessageHandler receives every frame read off the socket, in order.
type MessageHandler interface {
	OnMessage(raw []byte)
}

// backoffSchedule is the reconnect backoff sequence: 1s, 2s, 5s,
// 5s, ... capped at 5s.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

func backoffFor(attempt int) time.Duration {
	if attempt < len(backoffSchedule) {
		return backoffSchedule[attempt]
	}
	return backoffSchedule[len(backoffSchedule)-1]
}

// Link maintains one WebSocket to the broker.
type Link struct {
	appID   string
	token   string
	handler MessageHandler

	// onReady is invoked once authorize succeeds, on the first
	// connect and again after every reconnect, so callers can
	// re-issue their subscriptions.
	onReady func()
	// onFatal is invoked when the broker rejects the token; the
	// process is expected to exit non-zero in response.
	onFatal func(error)

	conn   *websocket.Conn
	connMu sync.Mutex

	connected    atomic.Bool
	authorized   atomic.Bool
	reconnecting atomic.Bool
	closing      atomic.Bool
	reqCounter   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	pingInterval time.Duration
}

// Option configures a Link.
type Option func(*Link)

// WithPingInterval overrides the default 10s heartbeat cadence.
func WithPingInterval(d time.Duration) Option {
	return func(l *Link) { l.pingInterval = d }
}

// WithOnReady registers the post-authorize (re)subscribe hook.
func WithOnReady(fn func()) Option {
	return func(l *Link) { l.onReady = fn }
}

// WithOnFatal registers the InvalidToken fatal-exit hook.
func WithOnFatal(fn func(error)) Option {
	return func(l *Link) { l.onFatal = fn }
}

// New creates a Link for the given app id and API token.
func New(appID, token string, handler MessageHandler, opts ...Option) *Link {
	l := &Link{
		appID:        appID,
		token:        token,
		handler:      handler,
		pingInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetHandler assigns the frame handler. Used when the handler (the
// correlator) itself depends on the Link as its Sender, so the two
// can't be constructed in a single step.
func (l *Link) SetHandler(handler MessageHandler) {
	l.handler = handler
}

// NextReqID returns a monotonically increasing request id for
// outbound payloads. Safe for concurrent use.
func (l *Link) NextReqID() int64 {
	return l.reqCounter.Add(1)
}

// Connect dials the socket, authorizes, and starts the read and
// heartbeat loops.
func (l *Link) Connect(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	if err := l.dial(); err != nil {
		return err
	}

	go l.readLoop()
	go l.pingLoop()

	return nil
}

func (l *Link) dial() error {
	url := fmt.Sprintf("%s?app_id=%s", wsBaseURL, l.appID)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(l.ctx, url, nil)
	if err != nil {
		if resp != nil {
			log.Error().Int("status", resp.StatusCode).Msg("link: handshake failed")
		}
		return fmt.Errorf("link: dial failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.connected.Store(true)
	log.Info().Str("url", url).Msg("link: connected")

	return l.authorize()
}

func (l *Link) authorize() error {
	req := broker.AuthorizeRequest{Authorize: l.token, ReqID: l.NextReqID()}
	if err := l.Send(req); err != nil {
		return fmt.Errorf("link: authorize send failed: %w", err)
	}
	return nil
}

// onAuthorizeResult is called by dispatch when an authorize response
// arrives, so Link can flip state and fire
// onReady (or onFatal on InvalidToken).
func (l *Link) onAuthorizeResult(err error) {
	if err != nil {
		if err == models.ErrInvalidToken {
			log.Error().Msg("link: invalid token, fatal")
			if l.onFatal != nil {
				l.onFatal(err)
			}
			return
		}
		log.Warn().Err(err).Msg("link: authorize failed")
		return
	}

	l.authorized.Store(true)
	log.Info().Msg("link: authorized")
	if l.onReady != nil {
		l.onReady()
	}
}

// Send serializes v and writes it to the socket. Writes are
// serialized with a mutex since the socket is the one shared
// resource every component contends for.
func (l *Link) Send(v interface{}) error {
	if !l.connected.Load() {
		return models.ErrNotConnected
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn == nil {
		return models.ErrNotConnected
	}
	return l.conn.WriteJSON(v)
}

// Disconnect closes the socket and suppresses reconnect.
func (l *Link) Disconnect() {
	l.closing.Store(true)
	if l.cancel != nil {
		l.cancel()
	}

	l.connMu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.connMu.Unlock()

	l.connected.Store(false)
	log.Info().Msg("link: disconnected")
}

// IsConnected reports whether the socket is currently up and
// authorized.
func (l *Link) IsConnected() bool {
	return l.connected.Load() && l.authorized.Load()
}

func (l *Link) readLoop() {
	defer func() {
		wasClosing := l.closing.Load()
		l.connected.Store(false)
		l.authorized.Store(false)
		if !wasClosing {
			go l.reconnect()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("link: read error")
			return
		}

		l.dispatch(data)
	}
}

func (l *Link) dispatch(data []byte) {
	var env broker.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("link: malformed frame dropped")
		return
	}

	if env.MsgType == "authorize" {
		var resp struct {
			Error *broker.Error `json:"error"`
		}
		_ = json.Unmarshal(data, &resp)
		if resp.Error != nil && resp.Error.Code == broker.ErrCodeInvalidToken {
			l.onAuthorizeResult(models.ErrInvalidToken)
		} else if resp.Error != nil {
			l.onAuthorizeResult(fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message))
		} else {
			l.onAuthorizeResult(nil)
		}
	}

	if l.handler != nil {
		l.handler.OnMessage(data)
	}
}

func (l *Link) pingLoop() {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			req := broker.PingRequest{Ping: 1, ReqID: l.NextReqID()}
			if err := l.Send(req); err != nil {
				log.Debug().Err(err).Msg("link: ping send failed")
			}
		}
	}
}

// reconnect retries the dial with the backoff schedule
// until it succeeds or Disconnect is called. Authorize failures with
// InvalidToken are fatal and stop the loop via onFatal's caller
// (the process exits); all other transport failures keep retrying
// indefinitely.
func (l *Link) reconnect() {
	if l.reconnecting.Load() || l.closing.Load() {
		return
	}
	l.reconnecting.Store(true)
	defer l.reconnecting.Store(false)

	attempt := 0
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}
		if l.closing.Load() {
			return
		}

		wait := backoffFor(attempt)
		log.Info().Dur("wait", wait).Int("attempt", attempt+1).Msg("link: reconnecting")
		time.Sleep(wait)

		if err := l.dial(); err != nil {
			log.Error().Err(err).Msg("link: reconnect attempt failed")
			attempt++
			continue
		}

		go l.readLoop()
		log.Info().Msg("link: reconnected")
		return
	}
}
