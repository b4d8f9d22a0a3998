package framesocket

import (
	"context"
	"net"
)

// ExchangeHandler runs one Conn per accepted connection with a fixed set
// of options.
type ExchangeHandler struct {
	opts   []Option
	logger Logger
}

// NewExchangeHandler returns a Handler that builds every Conn from opts.
// It fails early with the same errors as NewConn if opts are incomplete.
func NewExchangeHandler(opts ...Option) (*ExchangeHandler, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkOptions(&o); err != nil {
		return nil, err
	}
	return &ExchangeHandler{opts: opts, logger: o.logger}, nil
}

// NewFrameHandler serves the raw length-prefixed protocol, answering each
// request frame with t applied to its payload.
func NewFrameHandler(t Transform, limits Limits, opts ...Option) (*ExchangeHandler, error) {
	base := []Option{
		ModeOption("raw"),
		CustomCodecOption(NewFrameCodec(limits)),
		TransformOption(t),
	}
	return NewExchangeHandler(append(base, opts...)...)
}

// NewHTTPHandler serves the minimal HTTP variant, answering POST bodies
// with t applied to them.
func NewHTTPHandler(t Transform, opts ...Option) (*ExchangeHandler, error) {
	base := []Option{
		ModeOption("http"),
		CustomCodecOption(NewHTTPCodec()),
		ResponderOption(HTTPResponder(t)),
		OnErrorOption(func(error) ErrorAction { return Continue }),
	}
	return NewExchangeHandler(append(base, opts...)...)
}

// Handle runs a single exchange on conn. Errors end the exchange only.
func (h *ExchangeHandler) Handle(ctx context.Context, conn *net.TCPConn) {
	c, err := NewConn(conn, h.opts...)
	if err != nil {
		h.logger.Error("create connection", "addr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}
	_ = c.Run(ctx)
}
