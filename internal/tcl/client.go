package tcl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/metrics"
)

// Terminator ends every command sent to the TCL server and every reply it sends back.
const Terminator byte = 0x1a

// DefaultTimeout bounds a single command exchange.
const DefaultTimeout = 2 * time.Second

// Client sends one-line commands to an OpenOCD TCL control port. Every command uses
// its own short-lived connection.
type Client struct {
	addr    string
	timeout time.Duration
}

func New(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: net.JoinHostPort(host, strconv.Itoa(port)), timeout: timeout}
}

func (c *Client) Addr() string { return c.addr }

// Send writes cmd followed by the terminator and returns the normalised reply. The
// reply ends when the peer sends the terminator or closes the stream, whichever comes
// first. Any failure, including the timeout, is a channel fault.
func (c *Client) Send(ctx context.Context, cmd string) (string, error) {
	out, err := c.exchange(ctx, cmd)
	if err != nil {
		metrics.IncChannelCommand("error")
		return "", fault.Channel(err, "control command %q to %s failed", cmd, c.addr)
	}
	metrics.IncChannelCommand("ok")
	return Normalize(out), nil
}

func (c *Client) exchange(ctx context.Context, cmd string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(append([]byte(cmd), Terminator)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if i := bytes.IndexByte(chunk[:n], Terminator); i >= 0 {
				buf.Write(chunk[:i])
				return buf.Bytes(), nil
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}
}

// Normalize converts line endings to \n and trims surrounding whitespace.
func Normalize(b []byte) string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
