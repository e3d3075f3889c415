// Package transport owns the socket for a single request attempt.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// MaxStatusRead caps how much of the response is read.
	MaxStatusRead = 8 * 1024
	// StatusReadTimeout bounds the minimal response read, independent of the read timeout.
	StatusReadTimeout = time.Second
)

// Status is the parsed status line of a response.
type Status struct {
	Code   int
	Reason string
	Raw    []byte
}

func (s *Status) String() string {
	if s.Reason == "" {
		return strconv.Itoa(s.Code)
	}
	return strconv.Itoa(s.Code) + " " + s.Reason
}

// Conn is one TCP connection used for exactly one request.
type Conn struct {
	nc          net.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

// Dial connects to addr within connectTimeout. readTimeout then bounds every
// subsequent socket write and read.
func Dial(ctx context.Context, addr string, connectTimeout, readTimeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: connectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Conn{nc: nc, readTimeout: readTimeout}, nil
}

// Send writes the whole request. Body bytes are streamed from w's source.
func (c *Conn) Send(w io.WriterTo) (int64, error) {
	n, err := w.WriteTo(deadlineWriter{c})
	if err != nil {
		return n, fmt.Errorf("send: %w", err)
	}
	return n, nil
}

type deadlineWriter struct{ c *Conn }

func (d deadlineWriter) Write(p []byte) (int, error) {
	if d.c.readTimeout > 0 {
		d.c.nc.SetWriteDeadline(time.Now().Add(d.c.readTimeout))
	}
	return d.c.nc.Write(p)
}

// ReadStatus reads at most MaxStatusRead bytes, stopping early at the end of
// the header block, for no longer than StatusReadTimeout. A nil Status means no
// usable response: nothing arrived, the status line was malformed, or the read
// failed before any bytes came in.
func (c *Conn) ReadStatus() *Status {
	c.nc.SetReadDeadline(time.Now().Add(StatusReadTimeout))

	data := make([]byte, 0, MaxStatusRead)
	buf := make([]byte, 4096)
	for len(data) < MaxStatusRead && !bytes.Contains(data, []byte("\r\n\r\n")) {
		n, err := c.nc.Read(buf[:min(len(buf), MaxStatusRead-len(data))])
		data = append(data, buf[:n]...)
		if err != nil {
			break
		}
	}
	return ParseStatusLine(data)
}

// ParseStatusLine extracts the code and reason from the first line of raw.
func ParseStatusLine(raw []byte) *Status {
	if len(raw) == 0 {
		return nil
	}
	line := raw
	if i := bytes.Index(raw, []byte("\r\n")); i >= 0 {
		line = raw[:i]
	}
	parts := bytes.Fields(line)
	if len(parts) < 2 {
		return nil
	}
	code, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return nil
	}
	return &Status{
		Code:   code,
		Reason: string(bytes.Join(parts[2:], []byte(" "))),
		Raw:    raw,
	}
}

// Close releases the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
