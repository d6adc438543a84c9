// Package wire implements the newline-delimited text transport and the
// command tokenizer for the hallchat protocol.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultMaxLine is the default maximum accepted line length in bytes.
const DefaultMaxLine = 4096

var ErrLineTooLong = errors.New("wire: line exceeds maximum length")

// Conn wraps a net.Conn with a buffered line reader and a serialized
// line writer. Reads must come from a single goroutine (the connection
// handler); writes may come from any goroutine and are delivered in
// call order, which is what keeps per-recipient message ordering.
type Conn struct {
	c net.Conn
	r *bufio.Reader

	wmu sync.Mutex
}

// NewConn wraps c. maxLine bounds the accepted line length; values
// below 1 fall back to DefaultMaxLine.
func NewConn(c net.Conn, maxLine int) *Conn {
	if maxLine < 1 {
		maxLine = DefaultMaxLine
	}
	return &Conn{
		c: c,
		r: bufio.NewReaderSize(c, maxLine),
	}
}

// ReadLine reads the next newline-terminated line, with the trailing
// CR/LF stripped. A line longer than the reader buffer fails with
// ErrLineTooLong.
func (c *Conn) ReadLine() (string, error) {
	slice, err := c.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", ErrLineTooLong
		}
		return "", err
	}
	return strings.TrimRight(string(slice), "\r\n"), nil
}

// WriteLine formats one line and writes it with a trailing newline.
// Concurrent callers are serialized.
func (c *Conn) WriteLine(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.c.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("wire: write line: %w", err)
	}
	return nil
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// Close closes the underlying connection, unblocking any pending read.
func (c *Conn) Close() error {
	return c.c.Close()
}

// ParseKV decodes a "KEY:value" payload line for the given key.
func ParseKV(line, key string) (string, bool) {
	rest, ok := strings.CutPrefix(line, key+":")
	if !ok {
		return "", false
	}
	return strings.TrimRight(rest, "\r\n"), true
}
