// Package framing implements the LSP Content-Length wire format: a decoder
// that turns a byte stream into a sequence of message bodies, and an encoder
// that does the reverse.
package framing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Errors returned by Decoder.Decode. All are fatal for the session that
// hits them.
var (
	ErrMissingContentLength = errors.New("framing: missing Content-Length header")
	ErrInvalidContentLength = errors.New("framing: Content-Length is not a valid non-negative decimal")
	ErrMalformedHeader      = errors.New("framing: malformed header line")
)

// state is the decoder's position within one frame.
type state int

const (
	stateNeedHeaders state = iota
	stateNeedBody
)

// Decoder turns a byte stream into message bodies, one per Content-Length
// frame. It is not safe for concurrent use.
type Decoder struct {
	r      *bufio.Reader
	state  state
	length int
}

// NewDecoder wraps r with an LSP frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads exactly one framed message body from the stream, blocking
// until a full header block and body are available. It returns io.EOF only
// when the stream ends cleanly between frames (no partial frame pending).
func (d *Decoder) Decode() ([]byte, error) {
	if d.state == stateNeedHeaders {
		length, err := d.readHeaders()
		if err != nil {
			return nil, err
		}
		d.length = length
		d.state = stateNeedBody
	}

	body := make([]byte, d.length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("framing: stream ended mid-body (wanted %d bytes): %w", d.length, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	d.state = stateNeedHeaders
	return body, nil
}

// readHeaders scans a CRLF-terminated header block and returns the parsed
// Content-Length. Content-Type, if present, must parse as a header line but
// its value is otherwise ignored. Unknown headers are ignored.
func (d *Decoder) readHeaders() (int, error) {
	length := -1
	sawLine := false
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if line == "" && !sawLine {
					return 0, io.EOF
				}
				return 0, fmt.Errorf("framing: stream ended mid-header: %w", io.ErrUnexpectedEOF)
			}
			return 0, err
		}
		sawLine = true
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, ErrMalformedHeader
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch strings.ToLower(name) {
		case "content-length":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return 0, ErrInvalidContentLength
			}
			length = n
		case "content-type":
			// Parsed but ignored.
		}
	}

	if length < 0 {
		return 0, ErrMissingContentLength
	}
	return length, nil
}

// Encode frames body as `Content-Length: <n>\r\n\r\n<body>`.
func Encode(body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	return buf.Bytes()
}

// WriteMessage frames body and writes it to w in a single Write call so a
// concurrent reader never observes a partial frame.
func WriteMessage(w io.Writer, body []byte) error {
	_, err := w.Write(Encode(body))
	return err
}
