// Package transport maintains the duplex channel to the chat backend. It
// primes credentials, connects, reconnects after drops and fans decoded
// envelopes out to subscribers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/metrics"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/protocol"
)

var errPeerClosed = errors.New("peer closed the session")

// Config configures a Channel.
type Config struct {
	// BaseURL is the backend base URL (http or https).
	BaseURL          *url.URL
	Mode             models.TransportMode
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PrimeTimeout     time.Duration
}

// Channel is a self-healing duplex connection. One Channel serves one
// consumer session; the zero value is not usable, call New.
type Channel struct {
	cfg      Config
	endpoint string
	framer   framer
	dialer   Dialer
	primer   Primer
	logger   zerolog.Logger

	hub *Hub

	mu      sync.Mutex
	conn    Conn
	retry   *time.Timer // at most one pending reconnect
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	writeMu sync.Mutex
}

// Option configures a Channel
type Option func(*Channel)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithPrimer sets the credential primer. Without one the upgrade carries no cookie.
func WithPrimer(p Primer) Option {
	return func(c *Channel) {
		c.primer = p
	}
}

// WithLogger sets the channel logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

// New creates a disconnected channel. Call Start to connect.
func New(cfg Config, opts ...Option) (*Channel, error) {
	if cfg.BaseURL == nil {
		return nil, apierrors.NewConfigError("backend_url", "required by the duplex channel", apierrors.ErrMissingBackendURL)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = models.DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = models.DefaultHandshakeTimeout
	}
	if cfg.PrimeTimeout <= 0 {
		cfg.PrimeTimeout = models.DefaultPrimeTimeout
	}

	endpoint, err := EndpointURL(cfg.BaseURL, cfg.Mode)
	if err != nil {
		return nil, apierrors.NewConfigError("backend_url", err.Error(), nil)
	}

	c := &Channel{
		cfg:      cfg,
		endpoint: endpoint,
		framer:   newFramer(cfg.Mode),
		logger:   zerolog.Nop(),
		hub:      NewHub(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	c.logger = c.logger.With().Str("endpoint", endpoint).Logger()
	return c, nil
}

// Endpoint returns the duplex URL the channel dials.
func (c *Channel) Endpoint() string {
	return c.endpoint
}

// Start begins connecting in the background. Cancelling ctx closes the channel.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setStatusLocked(models.StatusConnecting)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.connect()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.hub.Done():
		}
	}()
}

// connect makes one attempt and, on success, reads until the connection drops.
func (c *Channel) connect() {
	conn, err := c.open()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("connection attempt failed")
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.setStatusLocked(models.StatusConnected)
	c.mu.Unlock()

	c.logger.Info().Msg("connected")
	err = c.readLoop(conn)
	c.connectionLost(conn, err)
}

// open primes credentials, dials and completes the framer handshake.
func (c *Channel) open() (Conn, error) {
	var header http.Header
	if c.primer != nil {
		pctx, cancel := context.WithTimeout(c.ctx, c.cfg.PrimeTimeout)
		h, err := c.primer.Prime(pctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("prime credentials: %w", err)
		}
		header = h
	}

	dctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dctx, c.endpoint, header)
	if err != nil {
		return nil, err
	}

	// Unblock the handshake read on timeout or Close
	stop := context.AfterFunc(dctx, func() { _ = conn.Close() })
	err = c.framer.handshake(conn)
	if !stop() {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", context.Cause(dctx))
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return conn, nil
}

func (c *Channel) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		in, err := c.framer.decode(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping transport frame")
			metrics.TransportFramesDroppedTotal.Inc()
			continue
		}
		if in.reply != nil {
			if err := c.write(conn, in.reply); err != nil {
				return err
			}
		}
		if in.closed {
			return errPeerClosed
		}
		if in.payload == nil {
			continue
		}

		env, err := protocol.Decode(in.payload)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping undecodable frame")
			metrics.TransportFramesDroppedTotal.Inc()
			continue
		}
		c.hub.Publish(env)
	}
}

// connectionLost schedules a reconnect unless conn is stale or the channel closed.
func (c *Channel) connectionLost(conn Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn != conn {
		return
	}
	c.conn = nil
	_ = conn.Close()
	c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("connection lost")
	c.scheduleRetryLocked()
}

func (c *Channel) scheduleRetryLocked() {
	c.setStatusLocked(models.StatusDisconnected)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(c.cfg.ReconnectDelay, c.reconnect)
}

func (c *Channel) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.setStatusLocked(models.StatusConnecting)
	c.wg.Add(1)
	c.mu.Unlock()

	metrics.TransportReconnectsTotal.Inc()
	defer c.wg.Done()
	c.connect()
}

// Send encodes env and writes it. It never queues: while not connected the
// frame is dropped with a warning and ErrNotConnected is returned.
func (c *Channel) Send(env models.Envelope) error {
	payload, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed, conn := c.closed, c.conn
	c.mu.Unlock()
	status := c.hub.Status()

	if closed {
		return apierrors.ErrClosed
	}
	if conn == nil || status != models.StatusConnected {
		c.logger.Warn().
			Str("type", string(env.Kind())).
			Stringer("status", status).
			Msg("send while not connected, frame dropped")
		return apierrors.ErrNotConnected
	}
	return c.write(conn, c.framer.encode(payload))
}

func (c *Channel) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	setWriteDeadline(conn, models.DefaultWriteTimeout)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apierrors.NewNetworkError("write", c.endpoint, err)
	}
	return nil
}

// Subscribe registers a consumer of decoded envelopes. Frames are delivered
// in arrival order. The channel is closed by Close or by the returned cancel func.
func (c *Channel) Subscribe() (<-chan models.Envelope, func()) {
	return c.hub.Subscribe()
}

// SubscribeStatus delivers status changes. Only the latest unread status is
// kept; the current status is delivered immediately.
func (c *Channel) SubscribeStatus() (<-chan models.ConnectionStatus, func()) {
	return c.hub.SubscribeStatus()
}

// Status returns the current connection status.
func (c *Channel) Status() models.ConnectionStatus {
	return c.hub.Status()
}

func (c *Channel) setStatusLocked(st models.ConnectionStatus) {
	if !c.hub.SetStatus(st) {
		return
	}
	metrics.TransportStatus.Set(float64(st))
	c.logger.Debug().Stringer("status", st).Msg("status changed")
}

// Close stops reconnecting, closes the connection and every subscription.
// After Close no further connection attempt is made. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(models.StatusDisconnected)
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	c.hub.Close()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		setWriteDeadline(conn, time.Second)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.wg.Wait()
	c.logger.Debug().Msg("channel closed")
	return nil
}
