// Package transport wraps TCP/UDP sockets with the send/recv/peek contract
// the RAOP session engine needs, grounded on the reference client's
// network.c: partial writes are failures, a zero-length read is an orderly
// remote close (not an error), and "is another message queued" is answered
// by a non-consuming one-byte peek.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/erikonbike/lightplay/internal/logging"
)

// ErrIO wraps every transport-level failure (open/send/recv).
var ErrIO = errors.New("transport: io error")

// ErrResource is the sentinel for failures to allocate/bind local
// resources; no function in this package currently returns it.
var ErrResource = errors.New("transport: resource error")

// Kind selects the socket family, mirroring NetworkConnectionType.
type Kind int

const (
	TCP Kind = iota
	UDP
)

func (k Kind) network() string {
	if k == UDP {
		return "udp"
	}
	return "tcp"
}

func (k Kind) String() string {
	if k == UDP {
		return "UDP"
	}
	return "TCP"
}

const dialTimeout = 10 * time.Second

// Transport is a client-mode network connection. Server-mode (bind, as used
// by the original for its own RTSP listener-less client) is out of scope:
// this CLI is exclusively a client of both the control and audio sockets.
type Transport struct {
	kind   Kind
	conn   net.Conn
	reader *bufio.Reader
}

// Open resolves host:port and connects as a client. It tries every address
// getaddrinfo-equivalent resolution returns, in order, keeping the first
// that connects, matching networkOpenConnection's candidate-address loop.
func Open(ctx context.Context, host, port string, kind Kind) (*Transport, error) {
	logger := logging.For("transport")
	addr := net.JoinHostPort(host, port)

	var d net.Dialer
	d.Timeout = dialTimeout
	conn, err := d.DialContext(ctx, kind.network(), addr)
	if err != nil {
		logger.Error().Err(err).Str("kind", kind.String()).Str("addr", addr).Msg("cannot open network connection")
		return nil, fmt.Errorf("%w: dial %s %s: %v", ErrIO, kind, addr, err)
	}

	logger.Debug().Str("kind", kind.String()).Str("addr", addr).Msg("opened network connection")
	return &Transport{
		kind:   kind,
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
	}, nil
}

// OpenWithRetry calls Open, retrying on failure with exponential backoff
// (100ms, 200ms, 400ms, ...) up to maxRetries attempts, matching
// runConnection's connection-establishment retry loop: a receiver waking
// from standby or mid-teardown from a previous session commonly refuses the
// first connection attempt.
func OpenWithRetry(ctx context.Context, host, port string, kind Kind, maxRetries int) (*Transport, error) {
	logger := logging.For("transport")

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		t, err := Open(ctx, host, port, kind)
		if err == nil {
			return t, nil
		}
		lastErr = err

		if attempt == maxRetries-1 {
			break
		}

		backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying connection")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Kind reports whether this is a TCP or UDP transport.
func (t *Transport) Kind() Kind { return t.kind }

// LocalAddr returns the local endpoint's IP, the way networkGetLocalAddressName does.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the remote endpoint's IP.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Reader exposes the buffered reader backing this transport, so higher
// layers (rtspwire.Response) can peek without a second syscall-level
// connection wrapper.
func (t *Transport) Reader() *bufio.Reader { return t.reader }

// Send writes the full buffer or fails; a short write is treated as failure,
// never as a partial success, matching networkSendMessage's
// `result != messageSize` check.
func (t *Transport) Send(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	n, err := t.conn.Write(b)
	if err != nil {
		return fmt.Errorf("%w: send: %v", ErrIO, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: send: partial write %d/%d bytes", ErrIO, n, len(b))
	}
	return nil
}

// Recv reads up to len(buf) bytes. A zero-length, nil-error result means the
// peer closed the connection in an orderly fashion; callers must treat that
// as EOF, not as an error (matching the `result == 0` branch of
// networkReceiveMessageInternal).
func (t *Transport) Recv(buf []byte) (int, error) {
	n, err := t.reader.Read(buf)
	if err != nil {
		if isOrderlyClose(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: recv: %v", ErrIO, err)
	}
	return n, nil
}

func isOrderlyClose(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// Peek reports whether at least one more byte is currently queued, without
// consuming it — the Go equivalent of a one-byte MSG_PEEK probe, used by
// rtspwire.Response to decide whether to keep growing its read buffer. It
// waits at most about a millisecond for data and returns false when none
// has arrived by then.
func (t *Transport) Peek() (bool, error) {
	if t.reader.Buffered() > 0 {
		return true, nil
	}
	// A deadline that has already passed fails before any read is tried, so
	// a minimal wait is needed to see bytes the kernel already holds.
	if err := t.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false, fmt.Errorf("%w: peek: %v", ErrIO, err)
	}
	_, err := t.reader.Peek(1)
	if resetErr := t.conn.SetReadDeadline(time.Time{}); resetErr != nil {
		return false, fmt.Errorf("%w: peek: %v", ErrIO, resetErr)
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		if isOrderlyClose(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: peek: %v", ErrIO, err)
	}
	return true, nil
}

// Close shuts down the write half then releases the socket, matching
// networkCloseSocket's shutdown-then-close sequence. ENOTCONN-equivalent
// errors from an already-closed connection are ignored, as the reference
// does.
func (t *Transport) Close() error {
	if tcp, ok := t.conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.For("transport").Warn().Err(err).Msg("cannot shut down write half of connection")
		}
	}
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}
