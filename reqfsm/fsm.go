package reqfsm

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nabbar/httpd/header"
	"github.com/nabbar/httpd/pool"
)

// Limits bounds the sizes reqfsm enforces while parsing, corresponding to
// the 414/413/431 protocol errors.
type Limits struct {
	MaxRequestLine int // request-line length, including CRLF
	MaxHeaderBlock int // total header block size, including blank-line CRLF
	MaxBodySize    int64
}

// DefaultLimits mirrors conservative values used throughout the retrieval
// pack's HTTP parsers (the teacher's core/http/parser.go caps similarly).
var DefaultLimits = Limits{
	MaxRequestLine: 8 * 1024,
	MaxHeaderBlock: 64 * 1024,
	MaxBodySize:    0, // 0 = no application-level cap beyond transport limits
}

// FSM drives one request through its read phase (Init..FootersReceived)
// incrementally: each call to Feed consumes as much of buf as is currently
// parseable and returns how many leading bytes of buf were consumed; the
// new state is available from State. Callers
// (package conn) retain any unconsumed suffix and append newly received
// bytes after it before calling Feed again.
type FSM struct {
	state  State
	limits Limits
	req    Request

	chunkRemaining int64
	bodyRead       int64
	inTrailer      bool

	bodySink func([]byte)
}

// SetBodySink installs fn to receive each slice of raw body payload as it
// is parsed out of chunk/content-length framing, so package conn can hand
// upload bytes to the application without the FSM itself owning storage
// for them. fn is called with views into the caller's buffer and must not
// retain them past the call.
func (f *FSM) SetBodySink(fn func([]byte)) { f.bodySink = fn }

// New starts a fresh FSM in Init state for one request.
func New(limits Limits) *FSM {
	if limits.MaxRequestLine == 0 {
		limits = DefaultLimits
	}
	return &FSM{state: Init, limits: limits}
}

func (f *FSM) State() State      { return f.state }
func (f *FSM) Request() *Request { return &f.req }

// Reset prepares the FSM to parse the next pipelined/keep-alive request,
// per spec's requirement that the read-buffer/pool invalidation on
// keep-alive also resets the FSM back to Init.
func (f *FSM) Reset() {
	f.state = Init
	f.req.Reset()
	f.chunkRemaining = 0
	f.bodyRead = 0
	f.inTrailer = false
	f.bodySink = nil
}

// Feed advances parsing using p to allocate any strings that must outlive
// buf (which may be a connection's reusable read buffer). It returns the
// number of leading bytes of buf fully consumed. ErrNeedMore means Feed made
// what progress it could but needs more bytes appended to buf before it can
// continue; any other non-nil error is a protocol-level *Error.
func (f *FSM) Feed(buf []byte, p *pool.Pool) (consumed int, err error) {
	total := 0
	for {
		switch f.state {
		case Init, URLReceived:
			n, e := f.feedRequestLine(buf[total:], p)
			total += n
			if e != nil {
				return total, e
			}
			if f.state == Init {
				return total, ErrNeedMore
			}
			f.state = HeaderPartReceived

		case HeaderPartReceived, HeadersReceived:
			n, e := f.feedHeaders(buf[total:], p, &f.req.Headers)
			total += n
			if e != nil {
				return total, e
			}
			if f.state == HeaderPartReceived {
				return total, ErrNeedMore
			}
			if e := f.finishHeaders(); e != nil {
				return total, e
			}
			// HeadersProcessed: the application's RequestHandler decides
			// whether to answer Expect:100-continue; package conn drives
			// that transition, not the FSM itself.
			return total, nil

		case BodyReceived, FooterPartReceived:
			n, e := f.feedBody(buf[total:], p)
			total += n
			if e != nil {
				return total, e
			}
			if f.state == BodyReceived || f.state == FooterPartReceived {
				return total, ErrNeedMore
			}
			return total, nil

		default:
			// Not a read-phase state; nothing left for Feed to do.
			return total, nil
		}
	}
}

func (f *FSM) feedRequestLine(buf []byte, p *pool.Pool) (int, error) {
	idx := bytes.Index(buf, crlf)
	if idx < 0 {
		if len(buf) > f.limits.MaxRequestLine {
			return 0, ErrURITooLong
		}
		return 0, nil
	}
	if idx > f.limits.MaxRequestLine {
		return 0, ErrURITooLong
	}
	line := buf[:idx]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return 0, ErrBadRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 < 0 {
		return 0, ErrBadRequestLine
	}
	method := line[:sp1]
	target := rest[:sp2]
	version := rest[sp2+1:]

	if len(method) == 0 || len(target) == 0 || len(version) == 0 {
		return 0, ErrBadRequestLine
	}

	f.req.Method = p.AllocString(string(method))
	if q := bytes.IndexByte(target, '?'); q >= 0 {
		f.req.Path = p.AllocString(string(target[:q]))
		f.req.Query = p.AllocString(string(target[q+1:]))
	} else {
		f.req.Path = p.AllocString(string(target))
		f.req.Query = ""
	}
	f.req.Version = p.AllocString(string(version))
	f.req.ContentLength = -1
	f.req.KeepAlive = httpVersionDefaultKeepAlive(f.req.Version)

	f.state = URLReceived
	return idx + len(crlf), nil
}

func httpVersionDefaultKeepAlive(version string) KeepAlive {
	if version == "HTTP/1.0" {
		return KeepAliveMust
	}
	return KeepAliveMay
}

var crlf = []byte("\r\n")

func (f *FSM) feedHeaders(buf []byte, p *pool.Pool, into *header.List) (int, error) {
	total := 0
	for {
		idx := bytes.Index(buf[total:], crlf)
		if idx < 0 {
			if len(buf)-total > f.limits.MaxHeaderBlock {
				return total, ErrHeaderTooLarge
			}
			f.state = HeaderPartReceived
			return total, nil
		}
		line := buf[total : total+idx]
		total += idx + len(crlf)

		if len(line) == 0 {
			// blank line: end of header/footer block
			if into == &f.req.Headers {
				f.state = HeadersReceived
			} else {
				f.state = FootersReceived
			}
			return total, nil
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return total, ErrBadHeaderLine
		}
		name := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		if name == "" {
			return total, ErrBadHeaderLine
		}
		kind := header.Header
		if into != &f.req.Headers {
			kind = header.Footer
		}
		into.Append(kind, p.AllocString(name), p.AllocString(value))

		if total > f.limits.MaxHeaderBlock {
			return total, ErrHeaderTooLarge
		}
	}
}

func (f *FSM) finishHeaders() error {
	if v, ok := f.req.Headers.Get(header.Header, "Content-Length"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			f.req.ContentLength = n
		}
	}
	if v, ok := f.req.Headers.Get(header.Header, "Transfer-Encoding"); ok {
		if strings.EqualFold(strings.TrimSpace(v), "chunked") {
			f.req.Chunked = true
			f.req.ContentLength = -1
		}
	}
	if v, ok := f.req.Headers.Get(header.Header, "Expect"); ok {
		v = strings.TrimSpace(v)
		if !strings.EqualFold(v, "100-continue") {
			return ErrExpectationFail
		}
		f.req.ExpectContinue = true
	}
	hasClose, hasKeepAlive := false, false
	for _, v := range f.req.Headers.Values(nil, header.Header, "Connection") {
		tok := strings.ToLower(strings.TrimSpace(v))
		hasClose = hasClose || strings.Contains(tok, "close")
		hasKeepAlive = hasKeepAlive || strings.Contains(tok, "keep-alive")
	}
	if hasClose {
		f.req.KeepAlive = KeepAliveMust
	} else if hasKeepAlive && f.req.Version == "HTTP/1.0" {
		f.req.KeepAlive = KeepAliveMay
	}
	f.state = HeadersProcessed
	f.chunkRemaining = -1 // sentinel: "need to read next chunk-size line"
	return nil
}

// BeginBody transitions HeadersProcessed -> BodyReceived (or straight to
// FootersReceived when there is no body at all), called by package conn
// once the application has had a chance to act on Expect:100-continue.
func (f *FSM) BeginBody() {
	if f.req.Chunked {
		f.state = BodyReceived
		return
	}
	if f.req.ContentLength <= 0 {
		f.state = FootersReceived
		return
	}
	f.state = BodyReceived
}

// feedBody consumes either a fixed-length body (Content-Length) or a
// chunked body plus trailers, appending consumed bytes' worth of progress.
// The body bytes themselves are not copied into the pool: package conn
// streams them directly to the application's body sink as they arrive.
func (f *FSM) feedBody(buf []byte, p *pool.Pool) (int, error) {
	if f.req.Chunked {
		return f.feedChunked(buf, p)
	}
	if f.limits.MaxBodySize > 0 && f.req.ContentLength > f.limits.MaxBodySize {
		return 0, ErrEntityTooLarge
	}
	remaining := f.req.ContentLength - f.bodyRead
	n := int64(len(buf))
	if n > remaining {
		n = remaining
	}
	if f.bodySink != nil && n > 0 {
		f.bodySink(buf[:n])
	}
	f.bodyRead += n
	if f.bodyRead >= f.req.ContentLength {
		f.state = FootersReceived
	} else {
		f.state = BodyReceived
	}
	return int(n), nil
}

func (f *FSM) feedChunked(buf []byte, p *pool.Pool) (int, error) {
	if f.inTrailer {
		// Resume a trailer block left incomplete by an earlier call.
		n, e := f.feedHeaders(buf, p, &f.req.Footers)
		if e == nil && f.state == HeaderPartReceived {
			f.state = FooterPartReceived
		}
		return n, e
	}
	total := 0
	for total < len(buf) {
		if f.chunkRemaining < 0 {
			idx := bytes.Index(buf[total:], crlf)
			if idx < 0 {
				f.state = BodyReceived
				return total, nil
			}
			line := buf[total : total+idx]
			if semi := bytes.IndexByte(line, ';'); semi >= 0 {
				line = line[:semi]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(string(line)), 16, 64)
			if err != nil || size < 0 {
				return total, ErrBadChunkSize
			}
			if f.limits.MaxBodySize > 0 && f.bodyRead+size > f.limits.MaxBodySize {
				return total, ErrEntityTooLarge
			}
			total += idx + len(crlf)
			f.chunkRemaining = size
			if size == 0 {
				f.inTrailer = true
				f.state = FooterPartReceived
				n, e := f.feedHeaders(buf[total:], p, &f.req.Footers)
				total += n
				if e != nil {
					return total, e
				}
				if f.state == HeaderPartReceived {
					f.state = FooterPartReceived
				}
				return total, nil
			}
			continue
		}

		avail := int64(len(buf) - total)
		take := f.chunkRemaining
		if take > avail {
			take = avail
		}
		if f.bodySink != nil && take > 0 {
			f.bodySink(buf[total : total+int(take)])
		}
		total += int(take)
		f.bodyRead += take
		f.chunkRemaining -= take
		if f.chunkRemaining == 0 {
			// consume trailing CRLF after chunk data
			if len(buf)-total < 2 {
				f.state = BodyReceived
				return total, nil
			}
			total += 2
			f.chunkRemaining = -1
		} else {
			f.state = BodyReceived
			return total, nil
		}
	}
	f.state = BodyReceived
	return total, nil
}
