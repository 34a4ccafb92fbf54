// Package raopsim is an in-process fake RAOP receiver for tests: a control
// listener that answers the OPTIONS/ANNOUNCE/SETUP/RECORD/SET_PARAMETER/
// FLUSH/TEARDOWN handshake with scripted responses, and an audio listener
// that counts received frames. It is a supplemented test fixture (not in
// the distilled spec), adapted from winkmichael-wink-rtsp-bench's
// internal/rtsp/badclient.go: that file drives a real RTSP server with
// scripted misbehavior from the client side; raopsim inverts the shape into
// a scripted server, reusing its per-connection read/write/close loop
// structure.
package raopsim

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Behavior selects how the fixture's control connection behaves, mirroring
// badclient.go's BadClientType enum of distinct fault modes, scoped to what
// a RAOP client integration test actually needs to exercise.
type Behavior int

const (
	// Cooperative answers every request with 200 OK and the fields RtspSession needs.
	Cooperative Behavior = iota
	// RequireAuth answers the first request with a 401 challenge, then 200 OK afterward.
	RequireAuth
	// RejectTwice answers every request with 401, so the first OPTIONS and its
	// single retry are both rejected, forcing the retry-once policy to fail.
	RejectTwice
)

// Receiver is one fake RAOP endpoint: a control listener and an audio
// listener, both on loopback, with an atomic frame counter fed by whatever
// connects to the audio listener.
type Receiver struct {
	ControlAddr string
	AudioAddr   string

	behavior Behavior

	framesReceived atomic.Uint64
	bytesReceived  atomic.Uint64

	mu        sync.Mutex
	sawMethod []string

	controlLn net.Listener
	audioLn   net.Listener
}

// Start opens both listeners and spawns their accept loops. Call Close to
// tear both down.
func Start(behavior Behavior) (*Receiver, error) {
	controlLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("raopsim: control listen: %w", err)
	}
	audioLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		controlLn.Close()
		return nil, fmt.Errorf("raopsim: audio listen: %w", err)
	}

	r := &Receiver{
		ControlAddr: controlLn.Addr().String(),
		AudioAddr:   audioLn.Addr().String(),
		behavior:    behavior,
		controlLn:   controlLn,
		audioLn:     audioLn,
	}

	go r.serveControl()
	go r.serveAudio()
	return r, nil
}

// AudioPort returns the port component of AudioAddr, for embedding into a
// SETUP response's Transport header.
func (r *Receiver) AudioPort() string {
	_, port, _ := net.SplitHostPort(r.AudioAddr)
	return port
}

func (r *Receiver) serveControl() {
	conn, err := r.controlLn.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	rejectedOnce := false

	for {
		method, cseq, ok := readRequest(reader)
		if !ok {
			return
		}

		r.mu.Lock()
		r.sawMethod = append(r.sawMethod, method)
		r.mu.Unlock()

		switch r.behavior {
		case RequireAuth:
			if !rejectedOnce {
				rejectedOnce = true
				conn.Write([]byte(fmt.Sprintf(
					"RTSP/1.0 401 Unauthorized\r\nCSeq: %d\r\nWWW-Authenticate: Digest realm=\"raopsim\", nonce=\"n0nce\"\r\n\r\n",
					cseq)))
				continue
			}
		case RejectTwice:
			conn.Write([]byte(fmt.Sprintf(
				"RTSP/1.0 401 Unauthorized\r\nCSeq: %d\r\nWWW-Authenticate: Digest realm=\"raopsim\", nonce=\"n0nce\"\r\n\r\n",
				cseq)))
			continue
		}

		conn.Write([]byte(r.responseFor(method, cseq)))
	}
}

func (r *Receiver) responseFor(method string, cseq int) string {
	switch method {
	case "SETUP":
		return fmt.Sprintf(
			"RTSP/1.0 200 OK\r\nCSeq: %d\r\nSession: 1\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1;server_port=%s\r\n\r\n",
			cseq, r.AudioPort())
	default:
		return fmt.Sprintf("RTSP/1.0 200 OK\r\nCSeq: %d\r\n\r\n", cseq)
	}
}

func (r *Receiver) serveAudio() {
	conn, err := r.audioLn.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	buf := make([]byte, 16*1024)
	var pending []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			r.bytesReceived.Add(uint64(n))
			pending = append(pending, buf[:n]...)
			// Bytes 2..4 of each 16-byte frame header hold sampleSize+12, so
			// a whole frame spans that value plus 4 bytes.
			for len(pending) >= 4 {
				frameLen := 4 + (int(pending[2])<<8 | int(pending[3]))
				if len(pending) < frameLen {
					break
				}
				r.framesReceived.Add(1)
				pending = pending[frameLen:]
			}
		}
		if err != nil {
			return
		}
	}
}

// FramesReceived and BytesReceived report the audio listener's running
// totals, for test assertions.
func (r *Receiver) FramesReceived() uint64 { return r.framesReceived.Load() }
func (r *Receiver) BytesReceived() uint64  { return r.bytesReceived.Load() }

// MethodsSeen returns, in order, every RTSP method the control connection
// has processed so far.
func (r *Receiver) MethodsSeen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sawMethod))
	copy(out, r.sawMethod)
	return out
}

// Close shuts both listeners down.
func (r *Receiver) Close() error {
	err1 := r.controlLn.Close()
	err2 := r.audioLn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// readRequest reads one request's method line, headers (capturing CSeq and
// Content-Length), and body (if Content-Length > 0), leaving the reader
// positioned at the start of the next request.
func readRequest(r *bufio.Reader) (method string, cseq int, ok bool) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", 0, false
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", 0, false
	}
	method = fields[0]

	contentLength := 0
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return "", 0, false
		}
		trimmed := strings.TrimRight(hline, "\r\n")
		if trimmed == "" {
			break
		}
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "cseq:"):
			v := strings.TrimSpace(trimmed[len("cseq:"):])
			if n, err := strconv.Atoi(v); err == nil {
				cseq = n
			}
		case strings.HasPrefix(lower, "content-length:"):
			v := strings.TrimSpace(trimmed[len("content-length:"):])
			if n, err := strconv.Atoi(v); err == nil {
				contentLength = n
			}
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return "", 0, false
		}
	}

	return method, cseq, true
}
