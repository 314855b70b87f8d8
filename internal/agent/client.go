// Package agent connects a running agent to the tools that analyse its
// traffic. The agent side is a Client that pushes every captured message over
// TCP; tools run a Server that receives them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/framing"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

const (
	DefaultBufferSize     = 10000
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

var errConnectionLost = errors.New("connection lost")

// ClientConfig configures a Client.
type ClientConfig struct {
	Addr           string
	BufferSize     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WriteTimeout   time.Duration
}

func (c *ClientConfig) setDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Client publishes captured messages to a Server as message/text
// notifications. Messages captured while disconnected are buffered, up to
// BufferSize, and sent in order once a connection is made.
type Client struct {
	logger *slog.Logger
	cfg    ClientConfig
	dialer net.Dialer

	buf       *ringBuffer[[]byte]
	wake      chan struct{}
	connected atomic.Bool
}

// NewClient creates a disconnected Client. Call Run to start delivering.
func NewClient(logger *slog.Logger, cfg ClientConfig) *Client {
	cfg.setDefaults()
	return &Client{
		logger: logger,
		cfg:    cfg,
		buf:    newRingBuffer[[]byte](cfg.BufferSize),
		wake:   make(chan struct{}, 1),
	}
}

// HandleMessage queues a captured message for delivery. It never blocks on
// the network.
func (c *Client) HandleMessage(_ context.Context, m *api.CapturedMessage) {
	msg, err := jsonrpc.NewMessageText(m)
	if err != nil {
		c.logger.Error("encoding captured message", "error", err)
		return
	}
	body, err := jsonrpc.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding captured message", "error", err)
		return
	}
	if c.buf.Push(body) {
		c.logger.Debug("publish buffer full, dropped oldest message")
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Connected reports whether the client currently has a connection.
func (c *Client) Connected() bool { return c.connected.Load() }

// Pending returns the number of messages waiting to be sent.
func (c *Client) Pending() int { return c.buf.Len() }

// Dropped returns how many messages were discarded because the buffer was full.
func (c *Client) Dropped() uint64 { return c.buf.Dropped() }

// Run connects to the server and delivers messages until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection is lost.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		c.logger.Info("connected", "addr", c.cfg.Addr)
		c.connected.Store(true)
		err = c.deliver(ctx, conn)
		c.connected.Store(false)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("disconnected", "addr", c.cfg.Addr, "error", err)
	}
}

// connect dials until it succeeds or ctx is done. The editor and the tool
// can start in either order, so there is no retry limit.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	dial := func() (net.Conn, error) {
		return c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	}
	conn, err := backoff.Retry(ctx, dial,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("connect failed, retrying", "addr", c.cfg.Addr, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.cfg.Addr, err)
	}
	return conn, nil
}

// deliver sends queued messages until the connection fails. A message is
// popped before it is sent and pushed back to the front if sending fails,
// so order is preserved across reconnects.
func (c *Client) deliver(ctx context.Context, conn net.Conn) error {
	lost := make(chan struct{})
	go func() {
		// The server never replies; a read returning means it went away.
		_, _ = io.Copy(io.Discard, conn)
		close(lost)
	}()

	w := framing.NewWriter(conn)
	for {
		body, ok := c.buf.Pop()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-lost:
				return errConnectionLost
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-lost:
			c.buf.PushFront(body)
			return errConnectionLost
		default:
		}

		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := w.WriteMessage(body); err != nil {
			c.buf.PushFront(body)
			return fmt.Errorf("sending message: %w", err)
		}
	}
}
