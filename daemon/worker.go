package daemon

import (
	"time"

	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/daemon/poller"
	"github.com/nabbar/httpd/internal/log"
	"github.com/nabbar/httpd/itc"
)

// pollIdleMs bounds how long a single Wait call blocks when no connection
// is near its idle-timeout deadline, so the quiesce flag is never left
// unobserved for more than about a second.
const pollIdleMs = 1000

// acceptedConn hands a freshly accepted connection from whichever worker's
// acceptLoop ran accept(2) to the worker it was round-robined onto.
type acceptedConn struct {
	c *conn.Connection
}

// worker is one poller goroutine: ModelSingleThread runs exactly one,
// which also owns the listening socket; ModelThreadPool runs cfg.workers
// of them sharing round-robin acceptance, grounded on the teacher's
// core/pools/worker_pool.go work distribution generalized from a fixed
// job queue to live connection handoff (see DESIGN.md).
type worker struct {
	d        *Daemon
	poll     poller.Poller
	registry *conn.Registry
	wake     itc.Channel
	conns    map[int]*conn.Connection

	acceptsListener bool
	siblings        []*worker
	rrNext          int
	inbox           chan acceptedConn
}

func (w *worker) run() {
	defer w.d.wg.Done()

	s := &session{d: w.d, reg: w.registry, w: &pollerWatcher{p: w.poll}}

	_ = w.poll.Add(w.wake.FD(), false)
	if w.acceptsListener {
		_ = w.poll.Add(w.d.listenFD, false)
	}

	for {
		if w.d.quiesce.Load() {
			w.shutdownAll(s)
			return
		}

		events, err := w.poll.Wait(w.nextTimeoutMs())
		if err != nil {
			continue
		}

		for _, ev := range events {
			switch {
			case ev.FD == w.wake.FD():
				w.wake.Drain()
				w.drainInbox()
			case w.acceptsListener && ev.FD == w.d.listenFD:
				w.acceptLoop()
			default:
				if c, ok := w.conns[ev.FD]; ok {
					w.handleEvent(s, c, ev)
				}
			}
		}

		w.sweepTimeouts(s)
	}
}

func (w *worker) acceptLoop() {
	for {
		c, _, err := w.d.acceptOne()
		if err != nil {
			log.Conn(w.d.logger(), 0, "", "accept").Warn(err.Error())
			return
		}
		if c == nil {
			return
		}
		t := w.nextSibling()
		if t == w {
			w.register(c)
			continue
		}
		t.inbox <- acceptedConn{c: c}
		t.wake.Wake()
	}
}

func (w *worker) nextSibling() *worker {
	if len(w.siblings) == 0 {
		return w
	}
	t := w.siblings[w.rrNext%len(w.siblings)]
	w.rrNext++
	return t
}

func (w *worker) drainInbox() {
	for {
		select {
		case ac := <-w.inbox:
			w.register(ac.c)
		default:
			return
		}
	}
}

func (w *worker) register(c *conn.Connection) {
	_ = w.poll.Add(c.FD(), false)
	w.conns[c.FD()] = c
	w.registry.Add(c)
}

func (w *worker) handleEvent(s *session, c *conn.Connection, ev poller.Event) {
	closeIt := false
	switch {
	case ev.Error:
		closeIt = true
	default:
		if ev.Readable {
			closeIt = s.handleReadable(c)
		}
		if !closeIt && ev.Writable {
			closeIt = s.handleWritable(c)
		}
	}
	if closeIt {
		w.closeConn(s, c)
	}
}

func (w *worker) closeConn(s *session, c *conn.Connection) {
	fd := c.FD()
	_ = w.poll.Remove(fd)
	delete(w.conns, fd)
	s.reg.MoveToCleanup(c)
	w.d.closeConnection(c, c.RemoteAddr())
	s.reg.Forget(c)
}

func (w *worker) shutdownAll(s *session) {
	for _, c := range w.conns {
		w.closeConn(s, c)
	}
	_ = w.poll.Close()
	_ = w.wake.Close()
}

func (w *worker) nextTimeoutMs() int {
	return idleTimeoutMs(w.registry, w.d.cfg.connTimeout)
}

func (w *worker) sweepTimeouts(s *session) {
	if w.d.cfg.connTimeout <= 0 {
		return
	}
	now := time.Now()
	for {
		c := w.registry.OldestTimeout()
		if c == nil || now.Sub(c.LastActive()) < w.d.cfg.connTimeout {
			return
		}
		if m := w.d.cfg.metrics; m != nil {
			m.IncTimeoutEvictions()
		}
		w.closeConn(s, c)
	}
}

// idleTimeoutMs computes how long a poller's Wait may safely block: long
// enough to avoid busy-looping, short enough that the next idle-timeout
// deadline (or the quiesce flag) is never missed by more than pollIdleMs.
func idleTimeoutMs(reg *conn.Registry, timeout time.Duration) int {
	if timeout <= 0 {
		return pollIdleMs
	}
	since, ok := reg.IdleSince(time.Now())
	if !ok {
		return pollIdleMs
	}
	remain := timeout - since
	if remain <= 0 {
		return 0
	}
	if ms := int(remain / time.Millisecond); ms < pollIdleMs {
		return ms
	}
	return pollIdleMs
}
