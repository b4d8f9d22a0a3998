package framesocket

import "io"

// Message is the interface for messages exchanged over a connection.
type Message interface {
	// Length returns the length of the message body.
	Length() int
	// Body returns the raw message data.
	Body() []byte
}

// Codec is the interface for message encoding and decoding.
//
// Decode reads from an io.Reader so the codec controls exactly how many
// bytes are consumed for one message, which is what makes reassembly of a
// fragmented TCP stream possible.
type Codec interface {
	// Decode reads and decodes one complete message from the reader.
	Decode(r io.Reader) (Message, error)
	// Encode encodes a Message into raw bytes for transmission.
	Encode(Message) ([]byte, error)
}

// StreamEncoder is implemented by codecs that can write a message directly
// to a stream instead of materializing it first. Conn prefers it over
// Codec.Encode when available.
type StreamEncoder interface {
	EncodeTo(w io.Writer, msg Message) error
}

// Responder turns a decoded request into the response message for the
// same exchange.
type Responder func(request Message) (Message, error)
