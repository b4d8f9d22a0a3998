package framesocket

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Frame layout and limits.
const (
	// LengthFieldSize is the size of the big-endian length prefix.
	LengthFieldSize = 8
	// DefaultMaxPayloadSize is the largest payload a frame may carry (1MB).
	DefaultMaxPayloadSize = 1024 * 1024
	// DefaultChunkSize bounds a single read or write call in the I/O loops.
	DefaultChunkSize = 4096
)

// Errors returned by the frame codec.
var (
	// ErrShortRead is returned when the peer closes or fails mid-frame.
	ErrShortRead = errors.New("short read")
	// ErrShortWrite is returned when a frame could not be fully written.
	ErrShortWrite = errors.New("short write")
	// ErrOversizedPayload is returned when a declared or supplied payload
	// length exceeds the configured maximum.
	ErrOversizedPayload = errors.New("oversized payload")
	// ErrAllocationFailure is returned when an output buffer cannot be obtained.
	ErrAllocationFailure = errors.New("allocation failure")
)

// Limits constrains frame decode/encode memory use and I/O granularity.
type Limits struct {
	MaxPayload uint64
	ChunkSize  int
}

// DefaultLimits returns the 1MB payload limit with 4KB chunks.
func DefaultLimits() Limits {
	return Limits{
		MaxPayload: DefaultMaxPayloadSize,
		ChunkSize:  DefaultChunkSize,
	}
}

func (l Limits) normalize() Limits {
	if l.MaxPayload == 0 {
		l.MaxPayload = DefaultMaxPayloadSize
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = DefaultChunkSize
	}
	return l
}

// Frame is one length-prefixed message on the raw wire protocol.
type Frame struct {
	Payload []byte
}

// Length returns the payload length.
func (f Frame) Length() int {
	return len(f.Payload)
}

// Body returns the payload.
func (f Frame) Body() []byte {
	return f.Payload
}

// DecodeFrame reads one frame from r.
//
// The declared length is validated before the payload buffer is allocated,
// so an oversized frame costs only the 8 header bytes. Partial data is
// discarded on any error.
func DecodeFrame(r io.Reader, limits Limits) (Frame, error) {
	limits = limits.normalize()

	var header [LengthFieldSize]byte
	if err := readChunked(r, header[:], limits.ChunkSize); err != nil {
		return Frame{}, errors.Wrap(err, "frame header")
	}

	length := binary.BigEndian.Uint64(header[:])
	if length > limits.MaxPayload {
		return Frame{}, errors.Wrapf(ErrOversizedPayload, "declared %d bytes, max %d", length, limits.MaxPayload)
	}

	payload := make([]byte, length)
	if err := readChunked(r, payload, limits.ChunkSize); err != nil {
		return Frame{}, errors.Wrap(err, "frame payload")
	}

	return Frame{Payload: payload}, nil
}

// EncodeFrame writes payload to w as one frame.
// An incomplete write of either the header or the payload is reported as
// ErrShortWrite.
func EncodeFrame(w io.Writer, payload []byte, limits Limits) error {
	limits = limits.normalize()

	if uint64(len(payload)) > limits.MaxPayload {
		return errors.Wrapf(ErrOversizedPayload, "payload %d bytes, max %d", len(payload), limits.MaxPayload)
	}

	var header [LengthFieldSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if err := writeChunked(w, header[:], limits.ChunkSize); err != nil {
		return errors.Wrap(err, "frame header")
	}

	if err := writeChunked(w, payload, limits.ChunkSize); err != nil {
		return errors.Wrap(err, "frame payload")
	}
	return nil
}

// readChunked fills buf, requesting at most chunk bytes per Read.
// A read that returns no data, or an error before buf is full, is a short read.
// The returned error wraps both ErrShortRead and the transport error so
// callers can still tell a deadline from a closed peer.
func readChunked(r io.Reader, buf []byte, chunk int) error {
	total := 0
	for total < len(buf) {
		end := min(total+chunk, len(buf))
		n, err := r.Read(buf[total:end])
		total += n
		if total == len(buf) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %d of %d bytes: %w: %w", total, len(buf), ErrShortRead, err)
		}
		if n == 0 {
			return errors.Wrapf(ErrShortRead, "read %d of %d bytes: no progress", total, len(buf))
		}
	}
	return nil
}

// writeChunked writes all of buf, at most chunk bytes per Write.
func writeChunked(w io.Writer, buf []byte, chunk int) error {
	total := 0
	for total < len(buf) {
		end := min(total+chunk, len(buf))
		n, err := w.Write(buf[total:end])
		total += n
		if err != nil {
			return fmt.Errorf("wrote %d of %d bytes: %w: %w", total, len(buf), ErrShortWrite, err)
		}
		if n == 0 {
			return errors.Wrapf(ErrShortWrite, "wrote %d of %d bytes: no progress", total, len(buf))
		}
	}
	return nil
}

// FrameCodec implements Codec for the raw length-prefixed protocol.
type FrameCodec struct {
	Limits Limits
}

// NewFrameCodec returns a FrameCodec with the given limits.
func NewFrameCodec(limits Limits) *FrameCodec {
	return &FrameCodec{Limits: limits.normalize()}
}

// Decode reads one frame.
func (c *FrameCodec) Decode(r io.Reader) (Message, error) {
	f, err := DecodeFrame(r, c.Limits)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Encode returns the full wire form of msg.
func (c *FrameCodec) Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(LengthFieldSize + msg.Length())
	if err := c.EncodeTo(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo streams msg to w as one frame.
func (c *FrameCodec) EncodeTo(w io.Writer, msg Message) error {
	return EncodeFrame(w, msg.Body(), c.Limits)
}
