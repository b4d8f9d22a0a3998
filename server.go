package framesocket

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Handler is the interface for handling incoming TCP connections.
type Handler interface {
	// Handle is called on its own goroutine for each accepted connection
	// and owns the connection until it returns. ctx is canceled when the
	// server shuts down.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

const defaultMaxConns = 128

// Server represents a TCP server that listens for incoming connections.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	maxConns        int

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long Serve waits for in-flight
// exchanges after its context is canceled. Connections still running when
// it expires are canceled. Default is 0 (cancel immediately).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerMaxConnsOption bounds the number of connections handled at once.
// Accepting pauses while the limit is reached.
func ServerMaxConnsOption(n int) ServerOption {
	return func(s *Server) {
		s.maxConns = n
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		maxConns:    defaultMaxConns,
		shutdownNow: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.maxConns <= 0 {
		s.maxConns = defaultMaxConns
	}

	return s, nil
}

// Serve accepts connections and runs handler for each on its own goroutine.
// It blocks until the context is canceled or the listener fails. On
// cancellation it stops accepting, gives in-flight handlers up to the
// shutdown timeout to finish, then cancels them and waits for them to
// return. Close bypasses the timeout.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr(), "max_conns", s.maxConns)

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	var group errgroup.Group
	group.SetLimit(s.maxConns)

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	var serveErr error
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				break
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			serveErr = errors.Wrap(err, "accept")
			break
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		group.Go(func() error {
			handler.Handle(connCtx, conn)
			return nil
		})
	}

	s.drain(cancelConns, &group)

	if serveErr != nil {
		return serveErr
	}
	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return ctx.Err()
}

// drain waits for running handlers, canceling them once the shutdown
// timeout expires or Close is called.
func (s *Server) drain(cancel context.CancelFunc, group *errgroup.Group) {
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		select {
		case <-done:
			return
		case <-time.After(s.shutdownTimeout):
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	cancel()
	<-done
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is in progress, Close bypasses the remaining time.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
