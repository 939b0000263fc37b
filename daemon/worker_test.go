package daemon

import (
	"testing"
	"time"

	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/reqfsm"
	"github.com/nabbar/httpd/wire"
)

// nopWire is a minimal wire.Adapter good enough to construct a
// *conn.Connection for registry/timeout bookkeeping tests that never
// touch the network.
type nopWire struct{ fd int }

func (w *nopWire) Recv([]byte) (int, error) { return 0, wire.ErrWouldBlock }
func (w *nopWire) Send([]byte) (int, error) { return 0, wire.ErrWouldBlock }
func (w *nopWire) Close() error              { return nil }
func (w *nopWire) FD() int                   { return w.fd }

func TestIdleTimeoutMsNoConnections(t *testing.T) {
	reg := conn.NewRegistry()
	if ms := idleTimeoutMs(reg, 30*time.Second); ms != pollIdleMs {
		t.Fatalf("idleTimeoutMs() = %d, want pollIdleMs (%d) with no tracked connections", ms, pollIdleMs)
	}
}

func TestIdleTimeoutMsDisabled(t *testing.T) {
	reg := conn.NewRegistry()
	c := conn.New(&nopWire{fd: 1}, "1.1.1.1:1", reqfsm.DefaultLimits, 0)
	reg.Add(c)
	if ms := idleTimeoutMs(reg, 0); ms != pollIdleMs {
		t.Fatalf("idleTimeoutMs() = %d, want pollIdleMs with timeout disabled", ms)
	}
}

func TestIdleTimeoutMsNearExpiry(t *testing.T) {
	reg := conn.NewRegistry()
	c := conn.New(&nopWire{fd: 1}, "1.1.1.1:1", reqfsm.DefaultLimits, 0)
	reg.Add(c)

	// A connection whose timeout has already elapsed should report a
	// zero wait, so the worker's next Wait call returns immediately and
	// sweepTimeouts evicts it right away.
	time.Sleep(5 * time.Millisecond)
	if ms := idleTimeoutMs(reg, time.Millisecond); ms != 0 {
		t.Fatalf("idleTimeoutMs() = %d, want 0 for an already-expired connection", ms)
	}
}

func TestRegistryTimeoutOrderingAfterSuspendResume(t *testing.T) {
	reg := conn.NewRegistry()
	a := conn.New(&nopWire{fd: 1}, "1.1.1.1:1", reqfsm.DefaultLimits, 0)
	b := conn.New(&nopWire{fd: 2}, "2.2.2.2:2", reqfsm.DefaultLimits, 0)
	reg.Add(a)
	reg.Add(b)

	if got := reg.OldestTimeout(); got != a {
		t.Fatalf("OldestTimeout() = %p, want a (%p)", got, a)
	}

	reg.Suspend(a)
	if got := reg.OldestTimeout(); got != b {
		t.Fatalf("OldestTimeout() after suspending a = %p, want b (%p)", got, b)
	}

	reg.Resume(a)
	if got := reg.OldestTimeout(); got != b {
		t.Fatalf("OldestTimeout() after resuming a = %p, want b (%p): a should re-enter at the fresh end", got, b)
	}

	n, s, cl := reg.Counts()
	if n != 2 || s != 0 || cl != 0 {
		t.Fatalf("Counts() = %d,%d,%d, want 2,0,0", n, s, cl)
	}
}
