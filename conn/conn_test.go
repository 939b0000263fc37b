package conn

import (
	"bytes"
	"testing"

	"github.com/nabbar/httpd/reqfsm"
	"github.com/nabbar/httpd/response"
	"github.com/nabbar/httpd/wire"
)

// memWire is an in-memory wire.Adapter stand-in so conn tests don't need a
// real socket: Recv drains a byte buffer (wire.ErrWouldBlock once empty),
// Send appends to another.
type memWire struct {
	in    *bytes.Buffer
	out   bytes.Buffer
	fd    int
	closed bool
}

func newMemWire(input string) *memWire {
	return &memWire{in: bytes.NewBufferString(input), fd: 99}
}

func (w *memWire) Recv(p []byte) (int, error) {
	if w.in.Len() == 0 {
		return 0, wire.ErrWouldBlock
	}
	return w.in.Read(p)
}

func (w *memWire) Send(p []byte) (int, error) {
	return w.out.Write(p)
}

func (w *memWire) Close() error { w.closed = true; return nil }
func (w *memWire) FD() int      { return w.fd }

func TestHandleReadSimpleGetHeadersOnly(t *testing.T) {
	mw := newMemWire("GET /x HTTP/1.1\r\nHost: h\r\nConnection: keep-alive\r\n\r\n")
	c := New(mw, "1.2.3.4:5555", reqfsm.DefaultLimits, 0)

	headersReady, bodyDone, err := c.HandleRead()
	if err != nil {
		t.Fatalf("HandleRead() error = %v", err)
	}
	if !headersReady || bodyDone {
		t.Fatalf("headersReady=%v bodyDone=%v, want true,false", headersReady, bodyDone)
	}

	c.BeginBody()
	done, err := c.ContinueBody()
	if err != nil {
		t.Fatalf("ContinueBody() error = %v", err)
	}
	if !done {
		t.Fatalf("ContinueBody() done = false, want true for a bodyless request")
	}
}

func TestHandleReadDrainsBodyBufferedWithHeaders(t *testing.T) {
	// Regression test: headers and a full Content-Length body arriving in
	// the same Recv must not require a second readiness notification to
	// finish draining the body.
	mw := newMemWire("POST /up HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello")
	c := New(mw, "1.2.3.4:5555", reqfsm.DefaultLimits, 0)

	headersReady, bodyDone, err := c.HandleRead()
	if err != nil || !headersReady || bodyDone {
		t.Fatalf("first HandleRead() = %v,%v,%v", headersReady, bodyDone, err)
	}

	c.BeginBody()
	done, err := c.ContinueBody()
	if err != nil {
		t.Fatalf("ContinueBody() error = %v", err)
	}
	if !done {
		t.Fatalf("ContinueBody() done = false, want true: body bytes were already buffered")
	}
	if string(c.Body()) != "hello" {
		t.Fatalf("Body() = %q, want %q", c.Body(), "hello")
	}
}

func TestSuspendResume(t *testing.T) {
	mw := newMemWire("")
	c := New(mw, "1.2.3.4:5555", reqfsm.DefaultLimits, 0)

	resumed := false
	c.SetResumeHook(func() { resumed = true })

	c.Suspend()
	if c.IOState() != Suspended {
		t.Fatalf("IOState() = %v, want Suspended", c.IOState())
	}
	if resumed {
		t.Fatalf("resume hook fired before Resume() was called")
	}

	c.Resume()
	if c.IOState() != Normal {
		t.Fatalf("IOState() = %v, want Normal", c.IOState())
	}
	if !resumed {
		t.Fatalf("resume hook did not fire")
	}
}

func TestQueueAndWriteContinue(t *testing.T) {
	mw := newMemWire("")
	c := New(mw, "1.2.3.4:5555", reqfsm.DefaultLimits, 0)

	c.QueueContinue()
	done, err := c.WriteContinue()
	if err != nil {
		t.Fatalf("WriteContinue() error = %v", err)
	}
	if !done {
		t.Fatalf("WriteContinue() done = false on an unblocked write")
	}
	if mw.out.String() != "HTTP/1.1 100 Continue\r\n\r\n" {
		t.Fatalf("wrote %q", mw.out.String())
	}
	// BeginBody is implied once the continue line is fully sent.
	if c.Body() != nil && len(c.Body()) != 0 {
		t.Fatalf("Body() = %v, want empty after BeginBody", c.Body())
	}
}

func TestResetForKeepAliveClearsExchangeState(t *testing.T) {
	mw := newMemWire("GET / HTTP/1.1\r\nHost: h\r\n\r\n")
	c := New(mw, "1.2.3.4:5555", reqfsm.DefaultLimits, 0)

	if _, _, err := c.HandleRead(); err != nil {
		t.Fatalf("HandleRead() error = %v", err)
	}
	c.MarkDispatched()
	c.ForceClose()
	c.ResetForKeepAlive()

	if c.Dispatched() {
		t.Fatalf("Dispatched() = true after ResetForKeepAlive")
	}
	if c.State() != reqfsm.Init {
		t.Fatalf("State() = %v after reset, want Init", c.State())
	}
}

func TestReleaseForUpgradeLeavesRealFDUntouched(t *testing.T) {
	mw := newMemWire("")
	c := New(mw, "1.2.3.4:5555", reqfsm.DefaultLimits, 0)

	r := response.New(101)
	r.SetUpgrade(true)
	c.QueueResponse(r)
	if !c.PendingUpgrade() {
		t.Fatalf("PendingUpgrade() = false after queuing an upgrade response")
	}

	fd := c.ReleaseForUpgrade()
	if fd != 99 {
		t.Fatalf("ReleaseForUpgrade() = %d, want 99", fd)
	}
	if !c.Upgraded() {
		t.Fatalf("Upgraded() = false after ReleaseForUpgrade")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() after upgrade: %v", err)
	}
	if mw.closed {
		t.Fatalf("Close() closed the real fd after it was handed off for upgrade")
	}
}
