package framesocket

import (
	"time"
)

// ErrorAction defines the action to take when the responder fails.
type ErrorAction int

const (
	// Disconnect closes the connection without writing a response.
	Disconnect ErrorAction = iota
	// Continue writes the error text back as the response payload.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	codec     Codec
	responder Responder
	logger    Logger
	metrics   Metrics

	// onError is called when the responder fails.
	// Returns Disconnect to close the connection, Continue to answer with the error text.
	onError func(error) ErrorAction

	mode         string        // label used in logs and metrics
	readTimeout  time.Duration // deadline for decoding the request
	writeTimeout time.Duration // deadline for writing the response
}

// Option is a function that configures connection options.
type Option func(*options)

// CustomCodecOption returns an Option that sets the message codec.
// The codec is required and must be provided before creating a connection.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// ResponderOption returns an Option that sets the request handler.
// A responder, or a transform through TransformOption, is required.
func ResponderOption(responder Responder) Option {
	return func(o *options) {
		o.responder = responder
	}
}

// TransformOption returns an Option that answers each request frame with
// t applied to its payload.
func TransformOption(t Transform) Option {
	return func(o *options) {
		o.responder = FrameResponder(t)
	}
}

// ReadTimeoutOption returns an Option that bounds how long decoding the
// request may take.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// WriteTimeoutOption returns an Option that bounds how long writing the
// response may take.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// ModeOption labels the connection in logs and metrics, e.g. "raw" or "http".
func ModeOption(mode string) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// OnErrorOption returns an Option that sets the responder error callback.
// Return Disconnect to close the connection, or Continue to send the error
// text as the response.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that sets the exchange metrics sink.
func MetricsOption(metrics Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}
