package framesocket

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Metrics receives one observation per finished exchange.
type Metrics interface {
	// ObserveExchange records a completed request/response pair.
	ObserveExchange(mode string, requestBytes, responseBytes int, elapsed time.Duration)
	// ObserveError records a failed exchange, kind is one of the ErrorKind labels.
	ObserveError(mode, kind string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveExchange(string, int, int, time.Duration) {}
func (nopMetrics) ObserveError(string, string)                     {}

// ErrorKind maps an exchange error to a stable, low-cardinality label.
func ErrorKind(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOversizedPayload):
		return "oversized_payload"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrAllocationFailure):
		return "allocation_failure"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, ErrShortRead):
		return "short_read"
	case errors.Is(err, ErrShortWrite):
		return "short_write"
	case errors.Is(err, errTransform):
		return "transform"
	default:
		return "other"
	}
}
