package framesocket

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Client sends one request frame over a dialed connection and reads the
// response frame. The connection is closed after the exchange.
type Client struct {
	conn    net.Conn
	limits  Limits
	timeout time.Duration
	used    atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// ClientLimitsOption sets the frame limits used for both directions.
func ClientLimitsOption(limits Limits) ClientOption {
	return func(c *Client) {
		c.limits = limits
	}
}

// ClientTimeoutOption bounds the whole exchange when ctx has no deadline.
func ClientTimeoutOption(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// Dial connects to a raw-mode server at addr.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return newClient(conn, opts...), nil
}

func newClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		limits:  DefaultLimits(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limits = c.limits.normalize()
	return c
}

// Do writes payload as the request frame and returns the response payload.
// A Client carries a single exchange; later calls return ErrConnectionClosed.
func (c *Client) Do(ctx context.Context, payload []byte) ([]byte, error) {
	if c.used.Swap(true) {
		return nil, ErrConnectionClosed
	}
	defer c.conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := EncodeFrame(c.conn, payload, c.limits); err != nil {
		return nil, c.wrap(ctx, err, "send request")
	}

	f, err := DecodeFrame(c.conn, c.limits)
	if err != nil {
		return nil, c.wrap(ctx, err, "read response")
	}
	return f.Payload, nil
}

func (c *Client) wrap(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), msg)
	}
	return errors.Wrap(err, msg)
}

// Close closes the connection without performing an exchange.
func (c *Client) Close() error {
	c.used.Store(true)
	return c.conn.Close()
}

// Exchange dials addr, sends payload and returns the response payload.
func Exchange(ctx context.Context, addr string, payload []byte, opts ...ClientOption) ([]byte, error) {
	c, err := Dial(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, payload)
}
