package rtspsession

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erikonbike/lightplay/internal/rtspwire"
	"github.com/erikonbike/lightplay/internal/transport"
)

// fakeReceiver replies to each request read from conn with the scripted
// responses, in order, one per request line block.
func fakeReceiver(t *testing.T, responses []string) (net.Listener, <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	requestsCh := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var seen []string
		r := bufio.NewReader(conn)
		for _, resp := range responses {
			line, err := readRequestLine(r)
			if err != nil {
				break
			}
			seen = append(seen, line)
			drainHeaders(r)
			conn.Write([]byte(resp))
		}
		requestsCh <- seen
	}()
	return ln, requestsCh
}

func readRequestLine(r *bufio.Reader) (string, error) {
	return r.ReadString('\n')
}

func drainHeaders(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if line == "\r\n" || line == "\n" {
			return
		}
	}
}

func dial(t *testing.T, ln net.Listener) *transport.Transport {
	t.Helper()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr, err := transport.Open(ctx, host, port, transport.TCP)
	require.NoError(t, err)
	return tr
}

func TestOptionsSucceedsAndAdvancesState(t *testing.T) {
	ln, _ := fakeReceiver(t, []string{"RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n"})
	defer ln.Close()
	tr := dial(t, ln)
	defer tr.Close()

	s := New(tr, "iTunes", "geheim")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.SendCommand(ctx, "OPTIONS", nil)
	require.NoError(t, err)
	require.Equal(t, "OptionsOk", s.State())
}

func TestSetupExtractsSessionAndAudioPort(t *testing.T) {
	ln, _ := fakeReceiver(t, []string{
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 2\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 3\r\nSession: 1A2B3C\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1;server_port=6001\r\n\r\n",
	})
	defer ln.Close()
	tr := dial(t, ln)
	defer tr.Close()

	s := New(tr, "iTunes", "geheim")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.SendCommand(ctx, "OPTIONS", nil)
	require.NoError(t, err)
	_, err = s.SendCommand(ctx, "ANNOUNCE", func(r *rtspwire.Request) {
		r.SetBody([]byte("v=0\r\n"), "application/sdp")
	})
	require.NoError(t, err)
	_, err = s.SendCommand(ctx, "SETUP", nil)
	require.NoError(t, err)

	require.Equal(t, uint32(0x1A2B3C), s.SessionID)
	require.Equal(t, 6001, s.AudioPort)
	require.Equal(t, "SetUp", s.State())
}

func TestAuthRetryOnceThenSucceeds(t *testing.T) {
	ln, _ := fakeReceiver(t, []string{
		"RTSP/1.0 401 Unauthorized\r\nCSeq: 1\r\nWWW-Authenticate: Digest realm=\"AppleTV\", nonce=\"abcdef\"\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 2\r\n\r\n",
	})
	defer ln.Close()
	tr := dial(t, ln)
	defer tr.Close()

	s := New(tr, "iTunes", "geheim")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.SendCommand(ctx, "OPTIONS", nil)
	require.NoError(t, err)
	require.Equal(t, "OptionsOk", s.State())
}

func TestSecondConsecutive401IsFatal(t *testing.T) {
	ln, _ := fakeReceiver(t, []string{
		"RTSP/1.0 401 Unauthorized\r\nCSeq: 1\r\nWWW-Authenticate: Digest realm=\"AppleTV\", nonce=\"abcdef\"\r\n\r\n",
		"RTSP/1.0 401 Unauthorized\r\nCSeq: 2\r\nWWW-Authenticate: Digest realm=\"AppleTV\", nonce=\"ghijkl\"\r\n\r\n",
	})
	defer ln.Close()
	tr := dial(t, ln)
	defer tr.Close()

	s := New(tr, "iTunes", "geheim")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.SendCommand(ctx, "OPTIONS", nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "second 401"))
}

func TestMethodOutOfOrderIsProtocolError(t *testing.T) {
	ln, _ := fakeReceiver(t, nil)
	defer ln.Close()
	tr := dial(t, ln)
	defer tr.Close()

	s := New(tr, "iTunes", "geheim")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.SendCommand(ctx, "RECORD", nil)
	require.Error(t, err)
}
