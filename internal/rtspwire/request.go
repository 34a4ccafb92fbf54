// Package rtspwire implements the RTSP/1.0 request builder and response
// parser, grounded on the reference client's rtsprequest.c and
// rtspresponse.c, adapted to Go's bufio/bytes idioms the way
// winkmichael-wink-rtsp-bench's internal/rtsp.Client builds and reads RTSP
// messages.
package rtspwire

import (
	"bytes"
	"context"
	"fmt"

	"github.com/erikonbike/lightplay/internal/transport"
)

// Request accumulates a method line, header fields, and an optional body,
// matching RTSPRequestStruct's three logical parts.
type Request struct {
	method  string
	headers bytes.Buffer // 1 KiB up front (NewRequest); later growth is bytes.Buffer's own, not fixed 512B steps
	body    []byte
	mime    string
}

// NewRequest starts building a request for method (e.g. "OPTIONS").
func NewRequest(method string) *Request {
	r := &Request{method: method}
	r.headers.Grow(1024)
	return r
}

// Reset reuses the request's buffers for a new method, avoiding a fresh
// allocation per request the way rtspRequestReset does.
func (r *Request) Reset(method string) {
	r.method = method
	r.headers.Reset()
	r.body = nil
	r.mime = ""
}

// AddHeader appends "name: value\r\n" to the header block.
func (r *Request) AddHeader(name, value string) {
	fmt.Fprintf(&r.headers, "%s: %s\r\n", name, value)
}

// SetBody stores body and mime, auto-adding Content-Type/Content-Length
// headers, matching rtspRequestSetContent.
func (r *Request) SetBody(body []byte, mime string) {
	r.body = body
	r.mime = mime
	r.AddHeader("Content-Type", mime)
	r.AddHeader("Content-Length", fmt.Sprintf("%d", len(body)))
}

// Send assembles "<METHOD> <url-or-*> RTSP/1.0\r\n" + headers + "\r\n" +
// body into one buffer and sends it as a single transport message.
// OPTIONS always addresses "*", regardless of the conversation URL,
// matching rtspRequestSend's special case.
func (r *Request) Send(ctx context.Context, url string, t *transport.Transport) error {
	target := url
	if r.method == "OPTIONS" {
		target = "*"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s RTSP/1.0\r\n", r.method, target)
	buf.Write(r.headers.Bytes())
	buf.WriteString("\r\n")
	if len(r.body) > 0 {
		buf.Write(r.body)
	}

	return t.Send(buf.Bytes())
}
