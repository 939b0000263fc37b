package response

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/nabbar/httpd/wire"
)

// fakeAdapter is an in-memory wire.Adapter for exercising Response's
// WriteHeaders/WriteBody without a real socket.
type fakeAdapter struct {
	out       bytes.Buffer
	blockAt   int // Send returns ErrWouldBlock once total written reaches this many bytes
	written   int
}

func (f *fakeAdapter) Recv(p []byte) (int, error) { return 0, io.EOF }
func (f *fakeAdapter) Close() error               { return nil }
func (f *fakeAdapter) FD() int                    { return -1 }

func (f *fakeAdapter) Send(p []byte) (int, error) {
	if f.blockAt > 0 && f.written >= f.blockAt {
		return 0, wire.ErrWouldBlock
	}
	n := len(p)
	if f.blockAt > 0 && f.written+n > f.blockAt {
		n = f.blockAt - f.written
	}
	f.out.Write(p[:n])
	f.written += n
	if n < len(p) {
		return n, wire.ErrWouldBlock
	}
	return n, nil
}

func TestInlineBodyRoundTrip(t *testing.T) {
	r := New(200)
	r.SetInlineBody([]byte("hello world"))
	r.PrepareHeaders("HTTP/1.1", false)

	a := &fakeAdapter{}
	done, err := r.WriteHeaders(a)
	if err != nil || !done {
		t.Fatalf("WriteHeaders: done=%v err=%v", done, err)
	}
	done, err = r.WriteBody(a)
	if err != nil || !done {
		t.Fatalf("WriteBody: done=%v err=%v", done, err)
	}

	out := a.out.String()
	if !bytes.Contains([]byte(out), []byte("Content-Length: 11")) {
		t.Fatalf("missing Content-Length in headers: %q", out)
	}
	if !bytes.HasSuffix([]byte(out), []byte("hello world")) {
		t.Fatalf("body missing from output: %q", out)
	}
}

func TestWriteBodyResumesAfterWouldBlock(t *testing.T) {
	r := New(200)
	r.SetInlineBody([]byte("0123456789"))
	r.PrepareHeaders("HTTP/1.1", false)

	a := &fakeAdapter{blockAt: 5}
	done, err := r.WriteBody(a)
	if err != nil {
		t.Fatalf("WriteBody first call error = %v", err)
	}
	if done {
		t.Fatalf("WriteBody reported done despite blocking at 5 bytes")
	}

	a.blockAt = 0
	done, err = r.WriteBody(a)
	if err != nil || !done {
		t.Fatalf("WriteBody resume: done=%v err=%v", done, err)
	}
	if a.out.String() != "0123456789" {
		t.Fatalf("out = %q, want full body with no duplication", a.out.String())
	}
}

func TestCallbackBodyChunksAndTerminates(t *testing.T) {
	chunks := [][]byte{[]byte("ab"), []byte("cd")}
	i := 0
	r := New(200)
	r.SetCallbackBody(func(p []byte) (int, error) {
		if i >= len(chunks) {
			return 0, io.EOF
		}
		n := copy(p, chunks[i])
		i++
		return n, nil
	}, 16)
	r.PrepareHeaders("HTTP/1.1", false)

	a := &fakeAdapter{}
	done, err := r.WriteBody(a)
	if err != nil || !done {
		t.Fatalf("WriteBody: done=%v err=%v", done, err)
	}
	want := "2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n"
	if a.out.String() != want {
		t.Fatalf("chunked output = %q, want %q", a.out.String(), want)
	}
}

func TestCallbackBodyTerminatesWhenEOFArrivesWithData(t *testing.T) {
	chunks := [][]byte{[]byte("ab"), []byte("cd")}
	i := 0
	r := New(200)
	r.SetCallbackBody(func(p []byte) (int, error) {
		n := copy(p, chunks[i])
		i++
		if i >= len(chunks) {
			return n, io.EOF
		}
		return n, nil
	}, 16)
	r.PrepareHeaders("HTTP/1.1", false)

	a := &fakeAdapter{}
	done, err := r.WriteBody(a)
	if err != nil || !done {
		t.Fatalf("WriteBody: done=%v err=%v", done, err)
	}
	want := "2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n"
	if a.out.String() != want {
		t.Fatalf("chunked output = %q, want %q (terminator missing after EOF-with-data)", a.out.String(), want)
	}
}

func TestRefCountDestroysOnZero(t *testing.T) {
	r := New(204)
	r.Ref()
	r.Unref()
	if r.refs != 1 {
		t.Fatalf("refs = %d, want 1 after one Ref/Unref pair", r.refs)
	}
	r.Unref()
	if r.refs != 0 {
		t.Fatalf("refs = %d, want 0 after final Unref", r.refs)
	}
}

func TestWriteHeadersPropagatesRealError(t *testing.T) {
	r := New(500)
	r.SetInlineBody(nil)
	r.PrepareHeaders("HTTP/1.1", false)

	a := &erroringAdapter{err: errors.New("boom")}
	_, err := r.WriteHeaders(a)
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

type erroringAdapter struct{ err error }

func (e *erroringAdapter) Recv(p []byte) (int, error) { return 0, io.EOF }
func (e *erroringAdapter) Send(p []byte) (int, error) { return 0, e.err }
func (e *erroringAdapter) Close() error               { return nil }
func (e *erroringAdapter) FD() int                    { return -1 }

func TestPrepareHeadersInjectsConnectionAndDate(t *testing.T) {
	r := New(200)
	r.SetInlineBody([]byte("hi"))
	r.PrepareHeaders("HTTP/1.1", true)

	a := &fakeAdapter{}
	if _, err := r.WriteHeaders(a); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}
	out := a.out.String()
	if !bytes.Contains([]byte(out), []byte("Connection: close\r\n")) {
		t.Fatalf("missing Connection: close in headers: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("Date: ")) {
		t.Fatalf("missing Date header: %q", out)
	}
}

func TestPrepareHeadersKeepAliveWhenNotMustClose(t *testing.T) {
	r := New(200)
	r.SetInlineBody([]byte("hi"))
	r.PrepareHeaders("HTTP/1.1", false)

	a := &fakeAdapter{}
	if _, err := r.WriteHeaders(a); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}
	if !bytes.Contains(a.out.Bytes(), []byte("Connection: keep-alive\r\n")) {
		t.Fatalf("missing Connection: keep-alive in headers: %q", a.out.String())
	}
}

func TestPrepareHeadersHonorsSuppressDate(t *testing.T) {
	r := New(200)
	r.SetInlineBody(nil)
	r.SuppressDate(true)
	r.PrepareHeaders("HTTP/1.1", false)

	a := &fakeAdapter{}
	if _, err := r.WriteHeaders(a); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}
	if bytes.Contains(a.out.Bytes(), []byte("Date: ")) {
		t.Fatalf("Date header present despite SuppressDate(true): %q", a.out.String())
	}
}

func TestSetUpgradeMarksResponse(t *testing.T) {
	r := New(101)
	if r.IsUpgrade() {
		t.Fatalf("IsUpgrade() = true before SetUpgrade was ever called")
	}
	r.SetUpgrade(true)
	if !r.IsUpgrade() {
		t.Fatalf("IsUpgrade() = false after SetUpgrade(true)")
	}
}
