package framesocket

// Transform converts a request payload into a response payload.
//
// Implementations must not mutate the input and must return a buffer the
// caller owns. Apply is called once per exchange, possibly from many
// connection goroutines at once.
type Transform interface {
	Apply(payload []byte) ([]byte, error)
}

// TransformFunc adapts an ordinary function to the Transform interface.
type TransformFunc func(payload []byte) ([]byte, error)

// Apply calls f(payload).
func (f TransformFunc) Apply(payload []byte) ([]byte, error) {
	return f(payload)
}

// Uppercase maps ASCII a-z to A-Z and passes every other byte through.
var Uppercase Transform = TransformFunc(uppercase)

func uppercase(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	for i, b := range payload {
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return out, nil
}

// FrameResponder returns a Responder that applies t to the request body
// and wraps the result in a Frame.
func FrameResponder(t Transform) Responder {
	return func(request Message) (Message, error) {
		out, err := t.Apply(request.Body())
		if err != nil {
			return nil, err
		}
		return Frame{Payload: out}, nil
	}
}
