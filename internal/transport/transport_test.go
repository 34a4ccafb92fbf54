package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serveOnce(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().String()
}

func TestOpenSendRecvRoundTrip(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 5)
		_, _ = conn.Read(buf)
		_, _ = conn.Write(buf)
	})
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr, err := Open(ctx, host, port, TCP)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send([]byte("hello")))

	buf := make([]byte, 5)
	n, err := tr.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestRecvOnOrderlyCloseReturnsZeroNilError(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		// Closing immediately without writing anything simulates the
		// remote hanging up in an orderly fashion.
	})
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr, err := Open(ctx, host, port, TCP)
	require.NoError(t, err)
	defer tr.Close()

	// Give the server goroutine a moment to close its side.
	time.Sleep(50 * time.Millisecond)

	buf := make([]byte, 5)
	n, err := tr.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSendZeroBytesIsNoOp(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		time.Sleep(50 * time.Millisecond)
	})
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr, err := Open(ctx, host, port, TCP)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send(nil))
}

func TestPeekReportsQueuedData(t *testing.T) {
	ready := make(chan struct{})
	addr := serveOnce(t, func(conn net.Conn) {
		<-ready
		_, _ = conn.Write([]byte("x"))
		time.Sleep(50 * time.Millisecond)
	})
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr, err := Open(ctx, host, port, TCP)
	require.NoError(t, err)
	defer tr.Close()

	close(ready)
	time.Sleep(50 * time.Millisecond)

	more, err := tr.Peek()
	require.NoError(t, err)
	require.True(t, more)

	buf := make([]byte, 1)
	n, err := tr.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('x'), buf[0])
}

func TestOpenWithRetrySucceedsOnceListenerExists(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			close(accepted)
			conn.Close()
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := OpenWithRetry(ctx, host, port, TCP, 3)
	require.NoError(t, err)
	defer tr.Close()

	<-accepted
}

func TestOpenWithRetryExhaustsAttemptsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close()) // nothing listens here anymore

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = OpenWithRetry(ctx, host, port, TCP, 2)
	require.Error(t, err)
}
