package framesocket

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxRequestSize is the raw HTTP request buffer (request line,
// headers and body together).
const DefaultMaxRequestSize = 4095

// ErrMalformedRequest is returned when an HTTP request cannot be parsed.
var ErrMalformedRequest = errors.New("malformed http request")

// MethodNotSupported is the body returned for methods other than POST and OPTIONS.
const MethodNotSupported = "Only POST method is supported"

var headerTerminator = []byte("\r\n\r\n")

// HTTPRequest is one request read by HTTPCodec.
type HTTPRequest struct {
	Method  string
	Target  string
	Proto   string
	Header  http.Header
	Payload []byte
}

// Length returns the body length.
func (r *HTTPRequest) Length() int {
	return len(r.Payload)
}

// Body returns the request body.
func (r *HTTPRequest) Body() []byte {
	return r.Payload
}

// HTTPResponse is one response written by HTTPCodec.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Payload    []byte
}

// Length returns the payload length.
func (r *HTTPResponse) Length() int {
	return len(r.Payload)
}

// Body returns the payload.
func (r *HTTPResponse) Body() []byte {
	return r.Payload
}

// HTTPCodec reads one minimal HTTP/1.1 request and writes one response.
//
// The whole request must fit in MaxRequestSize bytes. The body is whatever
// follows the blank line; when Content-Length is present the codec keeps
// reading until that many body bytes arrived or the buffer is full, so
// larger bodies are truncated at the buffer boundary.
type HTTPCodec struct {
	MaxRequestSize int
}

// NewHTTPCodec returns an HTTPCodec with the default request buffer.
func NewHTTPCodec() *HTTPCodec {
	return &HTTPCodec{MaxRequestSize: DefaultMaxRequestSize}
}

func (c *HTTPCodec) maxRequestSize() int {
	if c.MaxRequestSize <= 0 {
		return DefaultMaxRequestSize
	}
	return c.MaxRequestSize
}

// Decode reads one request.
func (c *HTTPCodec) Decode(r io.Reader) (Message, error) {
	buf := make([]byte, c.maxRequestSize())

	var req *HTTPRequest
	total, headerEnd, want := 0, -1, 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n

		if headerEnd < 0 {
			if i := bytes.Index(buf[:total], headerTerminator); i >= 0 {
				head, perr := parseRequestHead(buf[:i])
				if perr != nil {
					return nil, perr
				}
				req = head
				headerEnd = i + len(headerTerminator)
				want = headerEnd + min(contentLength(req.Header), len(buf)-headerEnd)
			}
		}
		if headerEnd >= 0 && total >= want {
			break
		}
		if err != nil || n == 0 {
			if headerEnd >= 0 {
				// peer stopped sending early; keep the body that arrived
				break
			}
			if err == nil {
				return nil, errors.Wrapf(ErrShortRead, "http request after %d bytes: no progress", total)
			}
			return nil, fmt.Errorf("http request after %d bytes: %w: %w", total, ErrShortRead, err)
		}
	}

	if headerEnd < 0 {
		return nil, errors.Wrapf(ErrMalformedRequest, "no header terminator within %d bytes", len(buf))
	}

	req.Payload = append([]byte{}, buf[headerEnd:min(total, want)]...)
	return req, nil
}

// Encode renders msg as an HTTP/1.1 response. Plain messages are sent as
// a 200 text/plain response.
func (c *HTTPCodec) Encode(msg Message) ([]byte, error) {
	resp, ok := msg.(*HTTPResponse)
	if !ok {
		resp = TextResponse(msg.Body())
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Payload)))

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	if err := header.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "write http header")
	}
	buf.WriteString("\r\n")
	buf.Write(resp.Payload)
	return buf.Bytes(), nil
}

func parseRequestHead(head []byte) (*HTTPRequest, error) {
	lines := strings.Split(string(head), "\r\n")

	parts := strings.Fields(lines[0])
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, errors.Wrapf(ErrMalformedRequest, "request line %q", lines[0])
	}

	req := &HTTPRequest{
		Method: strings.ToUpper(parts[0]),
		Target: parts[1],
		Proto:  parts[2],
		Header: http.Header{},
	}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Header.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return req, nil
}

func contentLength(h http.Header) int {
	n, err := strconv.Atoi(h.Get("Content-Length"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func corsHeader() http.Header {
	h := http.Header{}
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	return h
}

// TextResponse returns a 200 text/plain response with CORS headers.
func TextResponse(body []byte) *HTTPResponse {
	h := corsHeader()
	h.Set("Content-Type", "text/plain")
	return &HTTPResponse{StatusCode: http.StatusOK, Header: h, Payload: body}
}

// PreflightResponse returns the empty 200 answer to an OPTIONS request.
func PreflightResponse() *HTTPResponse {
	return &HTTPResponse{StatusCode: http.StatusOK, Header: corsHeader(), Payload: []byte{}}
}

// HTTPResponder returns a Responder for HTTPCodec requests. POST bodies go
// through t; OPTIONS is answered as a CORS preflight without calling t.
// Every other method, and a failing transform, still yields 200 with the
// error text as body.
func HTTPResponder(t Transform) Responder {
	return func(request Message) (Message, error) {
		req, ok := request.(*HTTPRequest)
		if !ok {
			return nil, errors.Errorf("http responder: unexpected message %T", request)
		}

		switch req.Method {
		case http.MethodOptions:
			return PreflightResponse(), nil
		case http.MethodPost:
			out, err := t.Apply(req.Payload)
			if err != nil {
				return TextResponse([]byte(err.Error())), nil
			}
			return TextResponse(out), nil
		default:
			return TextResponse([]byte(MethodNotSupported)), nil
		}
	}
}
