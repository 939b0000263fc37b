package reqfsm

import (
	"testing"

	"github.com/nabbar/httpd/header"
	"github.com/nabbar/httpd/pool"
)

func TestFeedSimpleGetNoBody(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	buf := []byte("GET /foo?x=1 HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n")
	n, err := f.Feed(buf, p)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d, want %d", n, len(buf))
	}
	if f.State() != HeadersProcessed {
		t.Fatalf("state = %v, want HeadersProcessed", f.State())
	}
	req := f.Request()
	if req.Method != "GET" || req.Path != "/foo" || req.Query != "x=1" {
		t.Fatalf("parsed request = %+v", req)
	}
	if v, ok := req.Headers.Get(header.Header, "host"); !ok || v != "example.com" {
		t.Fatalf("Host header = %q, %v", v, ok)
	}

	f.BeginBody()
	if f.State() != FootersReceived {
		t.Fatalf("state after BeginBody = %v, want FootersReceived", f.State())
	}
}

func TestFeedAcrossPartialReads(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	part1 := []byte("GET / HTTP/1.1\r\nHo")
	n, err := f.Feed(part1, p)
	if err != ErrNeedMore {
		t.Fatalf("err = %v, want ErrNeedMore", err)
	}
	if want := len("GET / HTTP/1.1\r\n"); n != want {
		t.Fatalf("consumed = %d with a partial header line pending, want %d (request line only)", n, want)
	}
	if f.State() != HeaderPartReceived {
		t.Fatalf("state = %v, want HeaderPartReceived", f.State())
	}

	// The caller keeps only the unconsumed suffix and appends new bytes.
	rest := append(append([]byte{}, part1[n:]...), []byte("st: x\r\n\r\n")...)
	n2, err2 := f.Feed(rest, p)
	if err2 != nil {
		t.Fatalf("Feed() second call error = %v", err2)
	}
	if n2 != len(rest) {
		t.Fatalf("consumed = %d, want %d", n2, len(rest))
	}
	if f.State() != HeadersProcessed {
		t.Fatalf("state = %v, want HeadersProcessed", f.State())
	}
}

func TestContentLengthBody(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	head := "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\n"
	n, err := f.Feed([]byte(head), p)
	if err != nil || n != len(head) {
		t.Fatalf("header parse: n=%d err=%v", n, err)
	}
	f.BeginBody()
	if f.State() != BodyReceived {
		t.Fatalf("state = %v, want BodyReceived", f.State())
	}

	n2, err2 := f.Feed([]byte("hello"), p)
	if err2 != nil {
		t.Fatalf("body feed error = %v", err2)
	}
	if n2 != 5 {
		t.Fatalf("consumed = %d, want 5", n2)
	}
	if f.State() != FootersReceived {
		t.Fatalf("state = %v, want FootersReceived", f.State())
	}
}

func TestChunkedBodyWithExtensionAndTrailer(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	head := "POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"
	n, err := f.Feed([]byte(head), p)
	if err != nil || n != len(head) {
		t.Fatalf("header parse: n=%d err=%v", n, err)
	}
	if !f.Request().Chunked {
		t.Fatalf("Chunked = false, want true")
	}
	f.BeginBody()

	body := "5;ext=1\r\nhello\r\n0\r\nX-Trailer: done\r\n\r\n"
	n2, err2 := f.Feed([]byte(body), p)
	if err2 != nil {
		t.Fatalf("chunked body feed error = %v", err2)
	}
	if n2 != len(body) {
		t.Fatalf("consumed = %d, want %d", n2, len(body))
	}
	if f.State() != FootersReceived {
		t.Fatalf("state = %v, want FootersReceived", f.State())
	}
	if v, ok := f.Request().Footers.Get(header.Footer, "X-Trailer"); !ok || v != "done" {
		t.Fatalf("trailer = %q, %v", v, ok)
	}
}

func TestBadRequestLineRejected(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	_, err := f.Feed([]byte("GET\r\n\r\n"), p)
	if err != ErrBadRequestLine {
		t.Fatalf("err = %v, want ErrBadRequestLine", err)
	}
}

func TestHTTP10DefaultsToClose(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	_, err := f.Feed([]byte("GET / HTTP/1.0\r\n\r\n"), p)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if f.Request().KeepAlive != KeepAliveMust {
		t.Fatalf("KeepAlive = %v, want KeepAliveMust", f.Request().KeepAlive)
	}
}

func TestExpectHeaderRejectsUnsupportedValue(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	_, err := f.Feed([]byte("GET / HTTP/1.1\r\nExpect: 200-ok\r\n\r\n"), p)
	if err != ErrExpectationFail {
		t.Fatalf("err = %v, want ErrExpectationFail", err)
	}
}

func TestExpectHeaderAcceptsContinue(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)

	_, err := f.Feed([]byte("GET / HTTP/1.1\r\nExpect: 100-continue\r\n\r\n"), p)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if !f.Request().ExpectContinue {
		t.Fatalf("ExpectContinue = false, want true")
	}
}

func TestContentLengthBodyExceedsMaxBodySize(t *testing.T) {
	p := pool.New()
	defer p.Release()
	limits := DefaultLimits
	limits.MaxBodySize = 4
	f := New(limits)

	head := "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\n"
	if _, err := f.Feed([]byte(head), p); err != nil {
		t.Fatalf("header parse error = %v", err)
	}
	f.BeginBody()

	_, err := f.Feed([]byte("hello"), p)
	if err != ErrEntityTooLarge {
		t.Fatalf("err = %v, want ErrEntityTooLarge", err)
	}
}

func TestChunkedBodyExceedsMaxBodySize(t *testing.T) {
	p := pool.New()
	defer p.Release()
	limits := DefaultLimits
	limits.MaxBodySize = 4
	f := New(limits)

	head := "POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"
	if _, err := f.Feed([]byte(head), p); err != nil {
		t.Fatalf("header parse error = %v", err)
	}
	f.BeginBody()

	_, err := f.Feed([]byte("5\r\nhello\r\n0\r\n\r\n"), p)
	if err != ErrEntityTooLarge {
		t.Fatalf("err = %v, want ErrEntityTooLarge", err)
	}
}

func TestResetReturnsToInit(t *testing.T) {
	p := pool.New()
	defer p.Release()
	f := New(DefaultLimits)
	f.Feed([]byte("GET / HTTP/1.1\r\n\r\n"), p)
	f.Reset()
	if f.State() != Init {
		t.Fatalf("state after Reset = %v, want Init", f.State())
	}
}
