// Package realtime implements the push channel that carries sensor_update
// frames: a reconnecting client for consumers and a broadcast hub for
// producers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// ErrMaxAttempts is the last error of a client that gave up reconnecting.
var ErrMaxAttempts = errors.New("maximum reconnect attempts reached")

var errStale = errors.New("connection superseded")

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_frames_total",
		Help: "Frames read from the real-time channel, by outcome.",
	}, []string{"outcome"})
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Reconnect attempts scheduled after an unplanned close.",
	})
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connected",
		Help: "1 while the real-time channel is connected.",
	})
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Conn is one live transport connection. ReadMessage blocks until a frame
// arrives or the connection ends; Close unblocks it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type Options struct {
	URL                  string
	AutoConnect          bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	Dialer Dialer
	Logger zerolog.Logger

	// OnEvent is called from the reader goroutine, one frame at a time,
	// in receive order.
	OnEvent func(domain.UpdateEvent)
	// OnStateChange must not block; it is called outside the client lock.
	OnStateChange func(State)
}

// Client keeps a connection to the push endpoint open, reconnecting after
// unplanned closes until the retry budget is spent.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	last     *domain.UpdateEvent
	conn     Conn
	bo       backoff.BackOff
	timer    *time.Timer
	cancel   context.CancelFunc
	life     context.Context
	// epoch changes on every manual Connect/Disconnect; goroutines from an
	// older epoch must not touch the state.
	epoch uint64

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	return &Client{
		opts: opts,
		log:  opts.Logger.With().Str("component", "realtime").Str("url", opts.URL).Logger(),
		bo:   newBackOff(opts),
	}
}

func newBackOff(opts Options) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.ReconnectDelay), uint64(opts.MaxReconnectAttempts))
}

// Start connects when the client was configured with AutoConnect.
func (c *Client) Start(ctx context.Context) {
	if !c.opts.AutoConnect {
		return
	}
	if err := c.Connect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial connect failed")
	}
}

// Connect dials the endpoint. A failed dial counts as an unplanned close
// and schedules a reconnect. Calling Connect while connecting or connected
// is a no-op; from any other state it restarts the retry budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.resetLocked()
	c.epoch++
	ep := c.epoch
	c.life, c.cancel = context.WithCancel(context.Background())
	life := c.life
	c.attempts = 0
	c.bo = newBackOff(c.opts)
	c.mu.Unlock()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	return c.dial(dialCtx, ep)
}

// Disconnect closes the live connection and cancels any pending reconnect
// or in-flight dial. Safe to call repeatedly and concurrently.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.resetLocked()
	c.epoch++
	conn := c.conn
	c.conn = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		c.log.Info().Msg("disconnected")
		c.notify(StateDisconnected)
	}
}

func (c *Client) resetLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Send writes v as a JSON frame. Without a live connection it logs and
// drops the message.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.log.Warn().Msg("cannot send, channel not connected")
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool { return c.State() == StateConnected }

// Attempts is the number of reconnects scheduled since the last successful
// connect or manual Connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) LastEvent() (domain.UpdateEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.UpdateEvent{}, false
	}
	return *c.last, true
}

func (c *Client) dial(ctx context.Context, ep uint64) error {
	if !c.transition(ep, StateConnecting) {
		return errStale
	}

	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)

	c.mu.Lock()
	if ep != c.epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if err == nil {
			err = errStale
		}
		return err
	}
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("dial failed")
		c.scheduleReconnect(ep)
		return err
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.lastErr = nil
	c.bo.Reset()
	c.mu.Unlock()

	connectedGauge.Set(1)
	c.log.Info().Msg("connected")
	c.notify(StateConnected)

	go c.readLoop(ep, conn)
	return nil
}

func (c *Client) readLoop(ep uint64, conn Conn) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			live := ep == c.epoch && c.conn == conn
			if live {
				c.lastErr = err
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			if !live {
				return
			}
			connectedGauge.Set(0)
			c.log.Warn().Err(err).Msg("connection closed")
			c.scheduleReconnect(ep)
			return
		}

		ev, err := DecodeEvent(frame, time.Now())
		if err != nil {
			framesTotal.WithLabelValues("invalid").Inc()
			c.log.Error().Err(err).Msg("dropping undecodable frame")
			continue
		}
		framesTotal.WithLabelValues("decoded").Inc()

		c.mu.Lock()
		if ep != c.epoch || c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.last = &ev
		c.mu.Unlock()

		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}
}

func (c *Client) scheduleReconnect(ep uint64) {
	c.mu.Lock()
	if ep != c.epoch {
		c.mu.Unlock()
		return
	}
	delay := c.bo.NextBackOff()
	if delay == backoff.Stop {
		c.state = StateFailed
		c.lastErr = ErrMaxAttempts
		c.mu.Unlock()
		connectedGauge.Set(0)
		c.log.Error().Int("max_attempts", c.opts.MaxReconnectAttempts).Msg("giving up on real-time channel")
		c.notify(StateFailed)
		return
	}
	c.attempts++
	attempt := c.attempts
	c.state = StateDisconnected
	c.timer = time.AfterFunc(delay, func() { c.redial(ep) })
	c.mu.Unlock()

	reconnectsTotal.Inc()
	c.log.Info().
		Int("attempt", attempt).
		Int("max_attempts", c.opts.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")
	c.notify(StateDisconnected)
}

func (c *Client) redial(ep uint64) {
	c.mu.Lock()
	if ep != c.epoch {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.life
	c.mu.Unlock()

	_ = c.dial(ctx, ep)
}

func (c *Client) transition(ep uint64, s State) bool {
	c.mu.Lock()
	if ep != c.epoch {
		c.mu.Unlock()
		return false
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify(s)
	}
	return true
}

func (c *Client) notify(s State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}
