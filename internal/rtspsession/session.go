// Package rtspsession drives the RTSP request/response conversation RAOP
// needs on top of internal/rtspwire: CSeq bookkeeping, session id tracking,
// the digest-auth retry-once policy, and the OPTIONS→ANNOUNCE→SETUP→
// RECORD→SET_PARAMETER→FLUSH→TEARDOWN state machine, grounded on the
// reference client's rtspclient.c and adapted from
// winkmichael-wink-rtsp-bench's internal/rtsp.Client handshake shape.
package rtspsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erikonbike/lightplay/internal/digest"
	"github.com/erikonbike/lightplay/internal/logging"
	"github.com/erikonbike/lightplay/internal/rtspwire"
	"github.com/erikonbike/lightplay/internal/streamstats"
	"github.com/erikonbike/lightplay/internal/transport"
)

// ErrProtocol wraps an unexpected RTSP status, or a required response field
// missing where the protocol guarantees its presence.
var ErrProtocol = errors.New("rtspsession: protocol error")

// ErrAuth wraps a digest-auth failure: a second 401, or a challenge
// response lacking realm/nonce.
var ErrAuth = errors.New("rtspsession: authentication error")

// state is the conversation's position in the RAOP handshake, matching the
// allowed-transitions table in the rtspclient.c state machine.
type state int

const (
	stateIdle state = iota
	stateOptionsOk
	stateAnnounced
	stateSetUp
	stateRecording
	stateFlushed
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateOptionsOk:
		return "OptionsOk"
	case stateAnnounced:
		return "Announced"
	case stateSetUp:
		return "SetUp"
	case stateRecording:
		return "Recording"
	case stateFlushed:
		return "Flushed"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// authState tracks whether a digest challenge has been satisfied, mirroring
// rtspClientAddAuthenticationFields's notion of "do we already have
// credentials to attach".
type authState int

const (
	authNone authState = iota
	authRequired
	authAuthenticated
)

// Session is a single RAOP control-channel conversation: one control
// Transport, one sequence counter, one session id once SETUP succeeds.
type Session struct {
	transport *transport.Transport
	url       string
	username  string
	password  string

	state state
	seq   uint32

	auth      authState
	realm     string
	nonce     string

	SessionID uint32
	AudioPort int

	latency *streamstats.LatencyTracker
}

// New starts a session over an already-open control transport, addressing
// requests at rtsp://<remote-ip>/1 per the fixed RAOP session URL.
func New(t *transport.Transport, username, password string) *Session {
	host := t.RemoteAddr().String()
	if h, _, err := splitHostPort(host); err == nil {
		host = h
	}
	return &Session{
		transport: t,
		url:       fmt.Sprintf("rtsp://%s/1", host),
		username:  username,
		password:  password,
		state:     stateIdle,
		latency:   streamstats.NewLatencyTracker(),
	}
}

// Latency exposes the round-trip latency tracker, for periodic reporting of
// how responsive the receiver's control channel has been.
func (s *Session) Latency() *streamstats.LatencyTracker { return s.latency }

// splitHostPort strips the port from a net.Addr's String() form; RAOP's
// fixed session URL carries no port.
func splitHostPort(hostport string) (string, string, error) {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i], hostport[i+1:], nil
		}
	}
	return hostport, "", nil
}

// URL returns the fixed session URL this conversation addresses.
func (s *Session) URL() string { return s.url }

// LocalIP and RemoteIP expose the control transport's endpoints (port
// stripped), needed to build the ANNOUNCE SDP body's o= and c= lines.
func (s *Session) LocalIP() string {
	host, _, _ := splitHostPort(s.transport.LocalAddr().String())
	return host
}

func (s *Session) RemoteIP() string {
	host, _, _ := splitHostPort(s.transport.RemoteAddr().String())
	return host
}

// nextCSeq increments and returns the sequence number, matching
// rtspRequestSetCSeq's ++cseq-per-request behavior (including retries).
func (s *Session) nextCSeq() uint32 {
	s.seq++
	return s.seq
}

// methodHeaders adds the method-specific headers beyond CSeq to req, per
// SPEC_FULL.md §4.6's per-method header table.
func (s *Session) methodHeaders(req *rtspwire.Request, method string) {
	switch method {
	case "SETUP":
		req.AddHeader("Transport", "RTP/AVP/TCP;unicast;interleaved=0-1;mode=record")
	case "RECORD":
		req.AddHeader("Session", fmt.Sprintf("%X", s.SessionID))
		req.AddHeader("Range", "npt=0-")
		req.AddHeader("RTP-Info", "seq=0;rtptime=0")
	case "FLUSH":
		req.AddHeader("Session", fmt.Sprintf("%X", s.SessionID))
		req.AddHeader("RTP-Info", "seq=0;rtptime=0")
	case "TEARDOWN":
		req.AddHeader("Session", fmt.Sprintf("%X", s.SessionID))
	}
}

func (s *Session) allowedFrom(method string) bool {
	switch method {
	case "OPTIONS":
		return s.state == stateIdle
	case "ANNOUNCE":
		return s.state == stateOptionsOk
	case "SETUP":
		return s.state == stateAnnounced
	case "RECORD":
		return s.state == stateSetUp
	case "SET_PARAMETER":
		return s.state == stateSetUp || s.state == stateRecording
	case "FLUSH":
		return s.state == stateRecording
	case "TEARDOWN":
		return s.state == stateFlushed
	default:
		return false
	}
}

func (s *Session) advance(method string) {
	switch method {
	case "OPTIONS":
		s.state = stateOptionsOk
	case "ANNOUNCE":
		s.state = stateAnnounced
	case "SETUP":
		s.state = stateSetUp
	case "RECORD":
		s.state = stateRecording
	case "FLUSH":
		s.state = stateFlushed
	case "TEARDOWN":
		s.state = stateTerminated
	}
}

// SendCommand builds and sends method, running contentSupplier (if non-nil)
// against the request before it is transmitted, and handles the 401-retry-
// once digest auth dance. On success it returns the parsed response so
// SETUP's caller can extract Session/Transport fields.
func (s *Session) SendCommand(ctx context.Context, method string, contentSupplier func(*rtspwire.Request)) (*rtspwire.Response, error) {
	if !s.allowedFrom(method) {
		return nil, fmt.Errorf("%w: %s is not valid from state %s", ErrProtocol, method, s.state)
	}

	start := time.Now()
	resp, err := s.sendOnce(ctx, method, contentSupplier)
	s.latency.Add(time.Since(start))
	if err != nil {
		return nil, err
	}

	status, ok := resp.Status()
	if !ok {
		return nil, fmt.Errorf("%w: %s: malformed status line", ErrProtocol, method)
	}

	if status == 401 {
		if s.auth == authRequired {
			return nil, fmt.Errorf("%w: %s: second 401 after retry", ErrAuth, method)
		}
		realm, nonce, ok := resp.WWWAuthenticate()
		if !ok {
			return nil, fmt.Errorf("%w: %s: 401 without usable WWW-Authenticate challenge", ErrAuth, method)
		}
		s.realm, s.nonce = realm, nonce
		s.auth = authRequired

		resp, err = s.sendOnce(ctx, method, contentSupplier)
		if err != nil {
			return nil, err
		}
		status, ok = resp.Status()
		if !ok {
			return nil, fmt.Errorf("%w: %s: malformed status line on retry", ErrProtocol, method)
		}
		if status == 401 {
			return nil, fmt.Errorf("%w: %s: second 401 after retry", ErrAuth, method)
		}
	}

	if status >= 200 && status <= 299 {
		s.auth = authAuthenticated
	} else if status == 354 {
		return nil, fmt.Errorf("%w: %s: receiver reports 354 (already playing / low bandwidth)", ErrProtocol, method)
	} else {
		return nil, fmt.Errorf("%w: %s: status %d", ErrProtocol, method, status)
	}

	if seq, ok := resp.SequenceNumber(); ok && seq != s.seq {
		logging.For("rtspsession").Warn().
			Uint32("sent", s.seq).Uint32("got", seq).
			Str("method", method).Msg("CSeq mismatch in response")
	}

	if method == "SETUP" {
		sessionID, ok := resp.Session()
		if !ok {
			return nil, fmt.Errorf("%w: SETUP: response missing Session header", ErrProtocol)
		}
		port, ok := resp.ServerPort()
		if !ok {
			return nil, fmt.Errorf("%w: SETUP: response missing Transport server_port", ErrProtocol)
		}
		s.SessionID = sessionID
		s.AudioPort = port
	}

	s.advance(method)
	return resp, nil
}

// sendOnce builds one request (general + method headers + optional
// Authorization + caller content) and round-trips it, without touching the
// state machine.
func (s *Session) sendOnce(ctx context.Context, method string, contentSupplier func(*rtspwire.Request)) (*rtspwire.Response, error) {
	req := rtspwire.NewRequest(method)
	req.AddHeader("CSeq", fmt.Sprintf("%d", s.nextCSeq()))
	s.methodHeaders(req, method)

	if contentSupplier != nil {
		contentSupplier(req)
	}

	if s.auth == authRequired || s.auth == authAuthenticated {
		challenge := digest.Challenge{Realm: s.realm, Nonce: s.nonce}
		auth := digest.Response(method, s.url, challenge, s.username, s.password)
		req.AddHeader("Authorization", auth)
	}

	if err := req.Send(ctx, s.url, s.transport); err != nil {
		return nil, fmt.Errorf("%w: %s: send: %v", ErrProtocol, method, err)
	}

	resp, err := rtspwire.Receive(ctx, s.transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: receive: %v", ErrProtocol, method, err)
	}
	return resp, nil
}

// State exposes the current state machine position for tests/diagnostics.
func (s *Session) State() string { return s.state.String() }
