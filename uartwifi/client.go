// Package uartwifi implements the Anycubic "uart-wifi" control protocol used
// by Photon Mono X family printers: comma-separated ASCII messages, each
// closed by an "end" field, exchanged over a plain TCP stream on port 6000.
package uartwifi

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	Port           = 6000
	DefaultTimeout = 5 * time.Second
)

// Client sends requests to a single printer. The connection is opened lazily
// on the first request and held until Close.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a client for host. A ":port" suffix on host overrides
// port.
func NewClient(host string, port int, timeout time.Duration) *Client {
	h, p := SplitHostPort(host, port)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		addr:    net.JoinHostPort(h, strconv.Itoa(p)),
		timeout: timeout,
	}
}

// SplitHostPort separates an optional port from host, falling back to port.
func SplitHostPort(host string, port int) (string, int) {
	h, ps, err := net.SplitHostPort(host)
	if err != nil {
		return strings.TrimSpace(host), port
	}
	p, err := strconv.Atoi(ps)
	if err != nil || p == 0 {
		return h, port
	}
	return h, p
}

// Addr returns the printer's host:port.
func (c *Client) Addr() string {
	return c.addr
}

// Request writes verb and collects responses until one tagged with verb
// arrives, the read deadline passes, or ctx is cancelled. A deadline after at
// least one decoded response is not an error; the caller decides whether the
// reply is usable.
func (c *Client) Request(ctx context.Context, verb string) (Reply, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	log.Debug().Str("addr", c.addr).Str("verb", verb).Msg("uart-wifi request")
	if _, err := conn.Write([]byte(verb + ",\r\n")); err != nil {
		return nil, errors.Wrapf(err, "write %s to %s", verb, c.addr)
	}

	var reply Reply
	scanner := bufio.NewScanner(conn)
	scanner.Split(scanMessages)
	for scanner.Scan() {
		resp := Decode(scanner.Text())
		if resp == nil {
			continue
		}
		reply = append(reply, resp)
		if resp.Verb() == verb {
			return reply, nil
		}
	}

	err = scanner.Err()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return reply, errors.Wrapf(ctxErr, "read %s from %s", verb, c.addr)
	}
	if len(reply) > 0 && isTimeout(err) {
		return reply, nil
	}
	if err == nil {
		// Peer closed the stream.
		if len(reply) > 0 {
			return reply, nil
		}
		return nil, errors.Errorf("read %s from %s: connection closed", verb, c.addr)
	}
	return reply, errors.Wrapf(err, "read %s from %s", verb, c.addr)
}

// Close releases the connection. The next Request dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", c.addr)
	}
	c.conn = conn
	return conn, nil
}

// scanMessages splits the stream on the ",end" terminator. Only a whole "end"
// field counts, so a value such as "endcap.pwmb" does not close the message.
// Line breaks between messages are left for Decode to trim.
func scanMessages(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	sep := []byte("," + terminator)
	for from := 0; ; {
		i := bytes.Index(data[from:], sep)
		if i < 0 {
			break
		}
		i += from
		next := i + len(sep)
		if next == len(data) {
			if atEOF {
				return next, data[:i], nil
			}
			// The field may continue in the next read.
			return 0, nil, nil
		}
		switch data[next] {
		case '\r', '\n', ',':
			return next, data[:i], nil
		}
		from = next
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
