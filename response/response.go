// Package response implements the reference-counted Response object: host
// applications build one per request and queue it for transmission; the
// daemon drains it through HeadersSending/NormalBodyReady/ChunkedBodyReady
// et al. until BodySent, then releases its reference.
package response

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nabbar/httpd/header"
	"github.com/nabbar/httpd/wire"
)

// dateFormat is the RFC 7231 IMF-fixdate layout required for the Date
// response header, the same format the retrieval pack's badu-http server
// precomputes as TimeFormat.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Source identifies which of the three body-producing strategies a
// Response uses, per spec §4.4: an inline buffer, a file descriptor (sent
// via sendfile with a buffered fallback), or a pull callback for
// streamed/generated bodies.
type Source int

const (
	SourceNone Source = iota
	SourceInline
	SourceFile
	SourceCallback
)

// PullFunc produces the next chunk of a streamed body. It returns
// io.EOF once the body is exhausted, exactly like io.Reader.
type PullFunc func(p []byte) (int, error)

// Response is reference-counted because a response object may be queued
// for transmission on the daemon's IO goroutine while the application
// goroutine that created it still holds a pointer (e.g. to append
// trailers generated asynchronously). The interior mutex guards every
// field below it; Ref/Unref manage the count.
type Response struct {
	mu sync.Mutex

	refs int32

	Status  int
	Headers header.List
	Chunked bool

	source Source

	inline []byte
	inOff  int

	file       *os.File
	fileOff    int64
	fileLeft   int64
	useFileLen bool

	pull        PullFunc
	pullBuf     []byte
	pullEOF     bool
	termPending bool
	pendingChunk []byte
	pendingOff   int
	pendingLast  bool

	headersSerialized []byte
	headersOff        int

	upgrade      bool
	suppressDate bool
}

// New creates a Response with one reference held by the caller.
func New(status int) *Response {
	return &Response{Status: status, refs: 1}
}

// Ref increments the reference count. Call it before handing the Response
// to a second goroutine/closure.
func (r *Response) Ref() {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
}

// Unref decrements the reference count, destroying the Response (closing
// any open file) when it reaches zero.
func (r *Response) Unref() {
	r.mu.Lock()
	r.refs--
	done := r.refs <= 0
	r.mu.Unlock()
	if done {
		r.destroy()
	}
}

func (r *Response) destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

// AddHeader appends a response header. Safe to call until the headers have
// started serializing (HeadersSending).
func (r *Response) AddHeader(name, value string) {
	r.mu.Lock()
	r.Headers.Append(header.ResponseHeader, name, value)
	r.mu.Unlock()
}

// SetInlineBody sets the response body to a caller-owned buffer; the
// buffer must not be modified until the Response is destroyed.
func (r *Response) SetInlineBody(body []byte) {
	r.mu.Lock()
	r.source = SourceInline
	r.inline = body
	r.inOff = 0
	r.mu.Unlock()
}

// SetFileBody streams f starting at offset for length bytes (length < 0
// means "to EOF") using sendfile with a buffered fallback.
func (r *Response) SetFileBody(f *os.File, offset, length int64) {
	r.mu.Lock()
	r.source = SourceFile
	r.file = f
	r.fileOff = offset
	if length >= 0 {
		r.fileLeft = length
		r.useFileLen = true
	} else {
		if fi, err := f.Stat(); err == nil {
			r.fileLeft = fi.Size() - offset
		}
		r.useFileLen = false
	}
	r.mu.Unlock()
}

// SetCallbackBody sets a pull-callback body source for generated or
// proxied content whose total length is not known in advance; the
// response will be sent chunked.
func (r *Response) SetCallbackBody(pull PullFunc, bufSize int) {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	r.mu.Lock()
	r.source = SourceCallback
	r.pull = pull
	r.pullBuf = make([]byte, bufSize)
	r.Chunked = true
	r.mu.Unlock()
}

// Source reports which body strategy this Response uses.
func (r *Response) Source() Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// SetUpgrade marks this Response as a protocol-switch handoff (spec §6's
// create_response_for_upgrade): once it has been fully written, the
// daemon stops driving the connection's FSM and hands the raw socket to
// the configured UpgradeHandler instead of deciding keep-alive.
func (r *Response) SetUpgrade(on bool) {
	r.mu.Lock()
	r.upgrade = on
	r.mu.Unlock()
}

// IsUpgrade reports whether SetUpgrade(true) was called.
func (r *Response) IsUpgrade() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upgrade
}

// SuppressDate opts this Response out of the automatic Date header
// PrepareHeaders otherwise injects, per spec's "unless suppressed" clause
// — used by applications that set their own Date (e.g. replaying a cached
// upstream response verbatim).
func (r *Response) SuppressDate(on bool) {
	r.mu.Lock()
	r.suppressDate = on
	r.mu.Unlock()
}

// PrepareHeaders serializes the status line and header block into an
// internal buffer, computing Content-Length/Transfer-Encoding from the
// chosen body source, and injects the Connection and Date headers
// reflecting mustClose (the connection's final keep-alive decision for
// this exchange) and the current time. Must be called once, before
// WriteHeaders, and only after the keep-alive decision for the exchange
// is final (see conn.QueueResponse).
func (r *Response) PrepareHeaders(version string, mustClose bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.source {
	case SourceInline:
		r.Headers.Append(header.ResponseHeader, "Content-Length", strconv.Itoa(len(r.inline)))
	case SourceFile:
		if r.useFileLen || r.fileLeft >= 0 {
			r.Headers.Append(header.ResponseHeader, "Content-Length", strconv.FormatInt(r.fileLeft, 10))
		}
	case SourceCallback:
		r.Headers.Append(header.ResponseHeader, "Transfer-Encoding", "chunked")
	}

	if _, ok := r.Headers.Get(header.ResponseHeader, "Connection"); !ok {
		if mustClose {
			r.Headers.Append(header.ResponseHeader, "Connection", "close")
		} else {
			r.Headers.Append(header.ResponseHeader, "Connection", "keep-alive")
		}
	}

	if !r.suppressDate {
		if _, ok := r.Headers.Get(header.ResponseHeader, "Date"); !ok {
			r.Headers.Append(header.ResponseHeader, "Date", time.Now().UTC().Format(dateFormat))
		}
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, version...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(r.Status), 10)
	buf = append(buf, ' ')
	buf = append(buf, statusText(r.Status)...)
	buf = append(buf, "\r\n"...)
	r.Headers.Each(func(_ header.Kind, name, value string) {
		buf = append(buf, name...)
		buf = append(buf, ": "...)
		buf = append(buf, value...)
		buf = append(buf, "\r\n"...)
	})
	buf = append(buf, "\r\n"...)

	r.headersSerialized = buf
	r.headersOff = 0
}

// WriteHeaders pushes as much of the serialized header block as w accepts
// without blocking. done reports whether the whole block has been sent
// (HeadersSending -> HeadersSent).
func (r *Response) WriteHeaders(w wire.Adapter) (done bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.headersOff < len(r.headersSerialized) {
		n, werr := w.Send(r.headersSerialized[r.headersOff:])
		r.headersOff += n
		if werr != nil {
			if werr == wire.ErrWouldBlock {
				return false, nil
			}
			return false, werr
		}
	}
	return true, nil
}

// WriteBody pushes as much body data as w accepts without blocking. done
// reports whether the body is fully sent (-> BodySent).
func (r *Response) WriteBody(w wire.Adapter) (done bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.source {
	case SourceNone:
		return true, nil
	case SourceInline:
		return r.writeInlineLocked(w)
	case SourceFile:
		return r.writeFileLocked(w)
	case SourceCallback:
		return r.writeCallbackLocked(w)
	default:
		return true, nil
	}
}

func (r *Response) writeInlineLocked(w wire.Adapter) (bool, error) {
	for r.inOff < len(r.inline) {
		n, err := w.Send(r.inline[r.inOff:])
		r.inOff += n
		if err != nil {
			if err == wire.ErrWouldBlock {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

func statusText(code int) string {
	if t, ok := statusTexts[code]; ok {
		return t
	}
	return fmt.Sprintf("Status %d", code)
}

var statusTexts = map[int]string{
	100: "Continue",
	200: "OK",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	414: "URI Too Long",
	417: "Expectation Failed",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}
