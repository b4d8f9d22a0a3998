// Package framesocket serves one request/response exchange per TCP
// connection. Requests are read through a pluggable Codec (length-prefixed
// frames or minimal HTTP), turned into a response by a Responder, usually
// a Transform, and written back before the connection closes.
package framesocket

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by connection operations.
var (
	// ErrInvalidCodec is returned when no codec is provided.
	ErrInvalidCodec = errors.New("invalid codec callback")
	// ErrInvalidResponder is returned when neither a responder nor a transform is provided.
	ErrInvalidResponder = errors.New("invalid responder callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	errTransform = errors.New("transform failed")
)

const (
	defaultTimeout = 30 * time.Second
	defaultMode    = "raw"
)

// Conn is one accepted TCP connection carrying exactly one exchange.
type Conn struct {
	rawConn *net.TCPConn
	logger  Logger

	opts options

	closed atomic.Bool
}

// NewConn wraps conn for a single exchange.
// Returns an error if required options (codec, responder) are missing.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Conn{rawConn: conn, logger: opts.logger, opts: opts}, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.codec == nil {
		return ErrInvalidCodec
	}

	if opts.responder == nil {
		return ErrInvalidResponder
	}

	if opts.readTimeout <= 0 {
		opts.readTimeout = defaultTimeout
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultTimeout
	}

	if opts.mode == "" {
		opts.mode = defaultMode
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.metrics == nil {
		opts.metrics = nopMetrics{}
	}

	return nil
}

// Run reads one request, writes one response and closes the connection.
// Canceling ctx aborts blocked I/O. The connection is closed when Run
// returns, whatever the outcome.
func (c *Conn) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.logger.Debug("connection established", "addr", c.Addr(), "mode", c.opts.mode)

	stop := context.AfterFunc(ctx, func() {
		_ = c.rawConn.SetDeadline(time.Now())
	})

	start := time.Now()
	reqBytes, respBytes, err := c.exchange(ctx)
	stop()
	c.Close()

	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}

	if err != nil {
		kind := ErrorKind(err)
		c.opts.metrics.ObserveError(c.opts.mode, kind)
		c.logger.Info("exchange failed", "addr", c.Addr(), "mode", c.opts.mode, "kind", kind, "error", err)
		return err
	}

	elapsed := time.Since(start)
	c.opts.metrics.ObserveExchange(c.opts.mode, reqBytes, respBytes, elapsed)
	c.logger.Debug("exchange completed", "addr", c.Addr(), "mode", c.opts.mode,
		"request_bytes", reqBytes,
		"response_bytes", respBytes,
		"elapsed", elapsed)
	return nil
}

func (c *Conn) exchange(ctx context.Context) (int, int, error) {
	armDeadline(ctx, c.rawConn.SetReadDeadline, c.opts.readTimeout)

	request, err := c.opts.codec.Decode(c.rawConn)
	if err != nil {
		return 0, 0, errors.Wrap(err, "decode request")
	}

	response, err := c.opts.responder(request)
	if err != nil {
		err = fmt.Errorf("%w: %w", errTransform, err)
		c.logger.Debug("responder error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return request.Length(), 0, err
		}
		response = Frame{Payload: []byte(err.Error())}
	}

	if err := c.write(ctx, response); err != nil {
		return request.Length(), 0, errors.Wrap(err, "write response")
	}
	return request.Length(), response.Length(), nil
}

// write sends msg with a deadline. Codecs that stream are written through
// directly; others are encoded first and pushed through the chunked loop.
func (c *Conn) write(ctx context.Context, msg Message) error {
	armDeadline(ctx, c.rawConn.SetWriteDeadline, c.opts.writeTimeout)

	if enc, ok := c.opts.codec.(StreamEncoder); ok {
		return enc.EncodeTo(c.rawConn, msg)
	}

	data, err := c.opts.codec.Encode(msg)
	if err != nil {
		return err
	}
	return writeChunked(c.rawConn, data, DefaultChunkSize)
}

// armDeadline sets a deadline timeout from now. If ctx is already done
// the deadline is forced to now, so a cancel that fired before the call
// is not overwritten.
func armDeadline(ctx context.Context, set func(time.Time) error, timeout time.Duration) {
	_ = set(time.Now().Add(timeout))
	if ctx.Err() != nil {
		_ = set(time.Now())
	}
}

// Close closes the underlying TCP connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}
