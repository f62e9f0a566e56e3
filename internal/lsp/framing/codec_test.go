package framing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dribbleReader returns at most n bytes per Read, to exercise the decoder
// against arbitrary chunking of the underlying stream.
type dribbleReader struct {
	data []byte
	n    int
}

func (d *dribbleReader) Read(p []byte) (int, error) {
	if len(d.data) == 0 {
		return 0, io.EOF
	}
	n := d.n
	if n > len(p) {
		n = len(p)
	}
	if n > len(d.data) {
		n = len(d.data)
	}
	copy(p, d.data[:n])
	d.data = d.data[n:]
	return n, nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","method":"exit"}`)
	framed := Encode(body)

	dec := NewDecoder(bytes.NewReader(framed))
	got, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDecodeIgnoresContentType(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","method":"exit"}`)
	framed := []byte("Content-Length: " + itoa(len(body)) + "\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n" + string(body))

	dec := NewDecoder(bytes.NewReader(framed))
	got, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDecodeStreamOfMessagesInOrder(t *testing.T) {
	a := []byte(`{}`)
	b := []byte(`[1]`)
	c := []byte(`{"x":2}`)

	var all []byte
	all = append(all, Encode(a)...)
	all = append(all, Encode(b)...)
	all = append(all, Encode(c)...)

	dec := NewDecoder(&dribbleReader{data: all, n: 3})

	got1, err := dec.Decode()
	require.NoError(t, err)
	got2, err := dec.Decode()
	require.NoError(t, err)
	got3, err := dec.Decode()
	require.NoError(t, err)

	assert.Equal(t, a, got1)
	assert.Equal(t, b, got2)
	assert.Equal(t, c, got3)
}

func TestDecodeMissingContentLength(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("Content-Type: application/json\r\n\r\n{}")))
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrMissingContentLength)
}

func TestDecodeInvalidContentLength(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("Content-Length: abc\r\n\r\n{}")))
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrInvalidContentLength)
}

func TestDecodeNegativeContentLength(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("Content-Length: -1\r\n\r\n{}")))
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrInvalidContentLength)
}

func TestDecodeMalformedHeaderLine(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("not a header\r\n\r\n{}")))
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestDecodeCleanEOFBetweenFrames(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	_, err := dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 8)
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
