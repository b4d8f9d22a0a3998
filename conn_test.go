package framesocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

// createTestTCPPair creates a connected pair of TCP connections for testing
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockMetrics records observations for assertions.
type mockMetrics struct {
	mu        sync.Mutex
	exchanges []string
	errors    []string
	reqBytes  int
	respBytes int
}

func (m *mockMetrics) ObserveExchange(mode string, requestBytes, responseBytes int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, mode)
	m.reqBytes += requestBytes
	m.respBytes += responseBytes
}

func (m *mockMetrics) ObserveError(mode, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, mode+"/"+kind)
}

func (m *mockMetrics) snapshot() ([]string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.exchanges...), append([]string(nil), m.errors...)
}

func newRawConn(t *testing.T, serverConn *net.TCPConn, opts ...Option) *Conn {
	t.Helper()
	base := []Option{
		CustomCodecOption(NewFrameCodec(DefaultLimits())),
		TransformOption(Uppercase),
		LoggerOption(discardLogger()),
	}
	conn, err := NewConn(serverConn, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	return conn
}

func runAsync(ctx context.Context, conn *Conn) chan error {
	done := make(chan error, 1)
	go func() {
		done <- conn.Run(ctx)
	}()
	return done
}

func waitRun(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to complete")
		return nil
	}
}

func TestNewConn(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	conn := newRawConn(t, serverConn)

	if conn.rawConn != serverConn {
		t.Error("rawConn not set correctly")
	}
	if conn.opts.mode != defaultMode {
		t.Errorf("mode = %q, want %q", conn.opts.mode, defaultMode)
	}
}

func TestNewConn_MissingCodec(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	_, err := NewConn(serverConn, TransformOption(Uppercase))
	if err != ErrInvalidCodec {
		t.Errorf("expected ErrInvalidCodec, got %v", err)
	}
}

func TestNewConn_MissingResponder(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	_, err := NewConn(serverConn, CustomCodecOption(NewFrameCodec(DefaultLimits())))
	if err != ErrInvalidResponder {
		t.Errorf("expected ErrInvalidResponder, got %v", err)
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	opts := &options{
		codec:     NewFrameCodec(DefaultLimits()),
		responder: FrameResponder(Uppercase),
	}

	if err := checkOptions(opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.readTimeout != defaultTimeout {
		t.Errorf("readTimeout = %v, want %v", opts.readTimeout, defaultTimeout)
	}
	if opts.writeTimeout != defaultTimeout {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, defaultTimeout)
	}
	if opts.logger == nil || opts.metrics == nil {
		t.Error("logger and metrics should have defaults")
	}
	if opts.onError(errors.New("test")) != Disconnect {
		t.Error("default onError should return Disconnect")
	}
}

func TestConn_Run_Hello(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	metrics := &mockMetrics{}
	conn := newRawConn(t, serverConn, MetricsOption(metrics))
	done := runAsync(context.Background(), conn)

	if err := EncodeFrame(clientConn, []byte("hello"), DefaultLimits()); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var head [LengthFieldSize]byte
	if _, err := io.ReadFull(clientConn, head[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if !bytes.Equal(head[:], header(5)) {
		t.Errorf("response header = %x, want length 5", head)
	}
	body, err := io.ReadAll(clientConn)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "HELLO" {
		t.Errorf("response = %q, want HELLO", body)
	}

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run returned %v", err)
	}
	if !conn.IsClosed() {
		t.Error("connection should be closed after the exchange")
	}

	exchanges, errs := metrics.snapshot()
	if len(exchanges) != 1 || exchanges[0] != "raw" || len(errs) != 0 {
		t.Errorf("metrics = %v / %v", exchanges, errs)
	}
	if metrics.reqBytes != 5 || metrics.respBytes != 5 {
		t.Errorf("bytes = %d/%d, want 5/5", metrics.reqBytes, metrics.respBytes)
	}
}

func TestConn_Run_ZeroLength(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	done := runAsync(context.Background(), newRawConn(t, serverConn))

	if err := EncodeFrame(clientConn, nil, DefaultLimits()); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := DecodeFrame(clientConn, DefaultLimits())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if f.Length() != 0 {
		t.Errorf("response length = %d, want 0", f.Length())
	}
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestConn_Run_Oversized(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	metrics := &mockMetrics{}
	done := runAsync(context.Background(), newRawConn(t, serverConn, MetricsOption(metrics)))

	if _, err := clientConn.Write(header(2000000)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	err := waitRun(t, done)
	if !errors.Is(err, ErrOversizedPayload) {
		t.Fatalf("expected ErrOversizedPayload, got %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _ := clientConn.Read(make([]byte, 16))
	if n != 0 {
		t.Errorf("received %d bytes, want no response frame", n)
	}

	_, errs := metrics.snapshot()
	if len(errs) != 1 || errs[0] != "raw/oversized_payload" {
		t.Errorf("error metrics = %v", errs)
	}
}

func TestConn_Run_ShortRead(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	done := runAsync(context.Background(), newRawConn(t, serverConn))

	_, _ = clientConn.Write(append(header(10), []byte("abc")...))
	clientConn.CloseWrite()

	if err := waitRun(t, done); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
	clientConn.Close()
}

func TestConn_Run_ReadTimeout(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	metrics := &mockMetrics{}
	conn := newRawConn(t, serverConn, ReadTimeoutOption(50*time.Millisecond), MetricsOption(metrics))
	done := runAsync(context.Background(), conn)

	err := waitRun(t, done)
	if ErrorKind(err) != "timeout" {
		t.Errorf("expected timeout, got %v (%s)", err, ErrorKind(err))
	}
	_, errs := metrics.snapshot()
	if len(errs) != 1 || errs[0] != "raw/timeout" {
		t.Errorf("error metrics = %v", errs)
	}
}

func TestConn_Run_ContextCanceled(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, newRawConn(t, serverConn))

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConn_Run_CanceledBeforeStart(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A long read timeout must not outlive a cancel that already happened.
	conn := newRawConn(t, serverConn, ReadTimeoutOption(time.Hour))
	done := runAsync(ctx, conn)

	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestArmDeadline(t *testing.T) {
	var got time.Time
	set := func(d time.Time) error {
		got = d
		return nil
	}

	armDeadline(context.Background(), set, time.Hour)
	if time.Until(got) < 59*time.Minute {
		t.Errorf("deadline = %v, want about an hour out", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	armDeadline(ctx, set, time.Hour)
	if time.Until(got) > time.Second {
		t.Errorf("deadline after cancel = %v, want now", got)
	}
}

func TestConn_Run_ResponderErrorDisconnect(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	conn := newRawConn(t, serverConn, TransformOption(TransformFunc(func([]byte) ([]byte, error) {
		return nil, ErrAllocationFailure
	})))
	done := runAsync(context.Background(), conn)

	_ = EncodeFrame(clientConn, []byte("hello"), DefaultLimits())

	err := waitRun(t, done)
	if !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("expected ErrAllocationFailure, got %v", err)
	}
	if ErrorKind(err) != "allocation_failure" {
		t.Errorf("kind = %s", ErrorKind(err))
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := DecodeFrame(clientConn, DefaultLimits()); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected closed connection, got %v", err)
	}
}

func TestConn_Run_ResponderErrorContinue(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	var seen error
	conn := newRawConn(t, serverConn,
		TransformOption(TransformFunc(func([]byte) ([]byte, error) {
			return nil, errors.New("bad input")
		})),
		OnErrorOption(func(err error) ErrorAction {
			seen = err
			return Continue
		}),
	)
	done := runAsync(context.Background(), conn)

	_ = EncodeFrame(clientConn, []byte("hello"), DefaultLimits())

	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := DecodeFrame(clientConn, DefaultLimits())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !bytes.Contains(f.Payload, []byte("bad input")) {
		t.Errorf("response = %q, want error text", f.Payload)
	}
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run returned %v", err)
	}
	if seen == nil || ErrorKind(seen) != "transform" {
		t.Errorf("onError saw %v", seen)
	}
}

// plainCodec implements only Codec, exercising the encode-then-write path.
type plainCodec struct {
	inner *FrameCodec
}

func (c *plainCodec) Decode(r io.Reader) (Message, error) { return c.inner.Decode(r) }
func (c *plainCodec) Encode(m Message) ([]byte, error)    { return c.inner.Encode(m) }

func TestConn_Run_NonStreamingCodec(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	var codec Codec = &plainCodec{inner: NewFrameCodec(DefaultLimits())}
	done := runAsync(context.Background(), newRawConn(t, serverConn, CustomCodecOption(codec)))

	_ = EncodeFrame(clientConn, bytes.Repeat([]byte("a"), 10000), DefaultLimits())
	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := DecodeFrame(clientConn, DefaultLimits())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !bytes.Equal(f.Payload, bytes.Repeat([]byte("A"), 10000)) {
		t.Error("payload mismatch")
	}
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestConn_Close(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	conn := newRawConn(t, serverConn)

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !conn.IsClosed() {
		t.Error("expected IsClosed to return true after Close")
	}
	if err := conn.Run(context.Background()); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConn_Addr(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	conn := newRawConn(t, serverConn)
	if conn.Addr().String() != clientConn.LocalAddr().String() {
		t.Errorf("Addr = %v, want %v", conn.Addr(), clientConn.LocalAddr())
	}
}

func TestConn_Run_LogsFailure(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	logger := &mockLogger{}
	conn := newRawConn(t, serverConn, LoggerOption(logger))
	done := runAsync(context.Background(), conn)

	clientConn.Close()
	_ = waitRun(t, done)

	if !logger.infoCalled || logger.lastMsg != "exchange failed" {
		t.Errorf("info log = %v %q", logger.infoCalled, logger.lastMsg)
	}
}
