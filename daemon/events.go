package daemon

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/internal/log"
	"github.com/nabbar/httpd/reqfsm"
	"github.com/nabbar/httpd/response"
	"github.com/nabbar/httpd/wire"
)

// watcher is how a session (re-)registers a connection's fd with whatever
// poller owns it. ModelThreadPerConnection drives Recv/Send with ordinary
// blocking I/O and passes a nil watcher — there is no poller to rearm.
type watcher interface {
	setWriteInterest(fd int, want bool) error
	rewatch(fd int)
	unwatch(fd int)
}

// session bundles what the shared event-handling code needs beyond the
// Connection itself: which Registry this connection belongs to (so it can
// be moved between buckets) and how to (re)arm its poller registration.
type session struct {
	d   *Daemon
	reg *conn.Registry
	w   watcher
}

// handleReadable drives HandleRead to fixpoint, dispatches the
// application Handler exactly once per request at HeadersProcessed, and
// answers Expect:100-continue before consuming the body, per spec §4.1.
// It returns true when the connection should move to cleanup.
func (s *session) handleReadable(c *conn.Connection) bool {
	headersReady, _, err := c.HandleRead()
	if err != nil {
		return s.handleProtocolError(c, err)
	}

	s.reg.Touch(c)

	if headersReady && !c.Dispatched() {
		closeNow, suspended := s.dispatch(c)
		if closeNow {
			return true
		}
		if suspended {
			return false
		}
	}

	if !c.Dispatched() {
		return false
	}

	if done, cerr := c.WriteContinue(); cerr != nil {
		return s.handleProtocolError(c, cerr)
	} else if !done {
		s.armWrite(c)
		return false
	}

	// HandleRead above stopped parsing at the HeadersProcessed boundary
	// (the FSM does not enter a body-reading state until BeginBody is
	// called from dispatch); drain whatever body bytes are already
	// sitting in the connection's read buffer or the kernel's socket
	// buffer now, since bytes already buffered will not generate a
	// second readiness notification on their own.
	bodyDone, err := c.ContinueBody()
	if err != nil {
		return s.handleProtocolError(c, err)
	}
	if bodyDone {
		s.armWrite(c)
	}
	return false
}

// dispatch invokes the application Handler once, per spec §4.1's
// HEADERS_PROCESSED exit condition, and stages the Expect:100-continue
// response or begins body consumption as appropriate. It returns
// closeNow if the connection must be torn down immediately, and
// suspended if the application parked the connection before deciding.
func (s *session) dispatch(c *conn.Connection) (closeNow, suspended bool) {
	req := c.Request()
	if s.d.cfg.uriLog != nil {
		s.d.cfg.uriLog(req.Path, c)
	}

	c.SetResumeHook(func() {
		s.reg.Resume(c)
		if s.w != nil {
			s.w.rewatch(c.FD())
		}
	})

	resp, applicationOK := s.invokeHandler(c, req)

	if c.IOState() == conn.Suspended {
		// Leave Dispatched()==false: the resume hook re-queues the
		// connection and the next readiness notification re-enters this
		// same dispatch path to finish deciding.
		if s.w != nil {
			s.w.unwatch(c.FD())
		}
		s.reg.Suspend(c)
		return false, true
	}

	c.MarkDispatched()

	if !applicationOK {
		// spec §7: handler returns NO -> close connection without a
		// response (observed by the peer as a dropped connection).
		c.ForceClose()
		return true, false
	}

	if resp != nil {
		resp.Ref()
		if req.ContentLength > 0 || req.Chunked {
			// A response decided before the body was read (e.g. an early
			// 4xx) means any unread upload bytes cannot be safely drained
			// and kept alive; force close per spec §7's conservative
			// default. This must happen before QueueResponse below, so
			// the Connection header it bakes in reflects the final
			// decision rather than a stale one.
			c.ForceClose()
		} else {
			// No body to wait for: advance the FSM past
			// HeadersProcessed now, so a pipelined next request already
			// sitting in the read buffer is recognized as such once this
			// exchange completes, instead of being mistaken for more of
			// this one.
			c.BeginBody()
		}
		c.QueueResponse(resp)
		s.armWrite(c)
		return false, false
	}

	if req.ExpectContinue {
		c.QueueContinue()
	} else {
		c.BeginBody()
	}
	return false, false
}

// handleWritable drains whatever response is queued; once fully sent it
// decides keep-alive vs close per spec §4.1's FOOTERS_SENT transition.
// It returns true when the connection should move to cleanup.
func (s *session) handleWritable(c *conn.Connection) bool {
	if done, err := c.WriteContinue(); err != nil {
		return s.handleProtocolError(c, err)
	} else if !done {
		return false
	}

	done, err := c.WriteReady()
	if err != nil {
		if errors.Is(err, wire.ErrWouldBlock) {
			return false
		}
		return true
	}
	s.reg.Touch(c)
	if !done {
		return false
	}

	if m := s.d.cfg.metrics; m != nil {
		m.ObserveResponse(c.ResponseStatus())
	}
	if s.d.cfg.termination != nil {
		s.d.cfg.termination(c, "completed")
	}

	if c.PendingUpgrade() {
		fd := c.ReleaseForUpgrade()
		if s.d.cfg.upgrade != nil {
			s.d.cfg.upgrade(fd, c.RemoteAddr())
		}
		return true
	}

	mustClose := c.KeepAliveDecision() == reqfsm.KeepAliveMust
	s.disarmWrite(c)
	if mustClose {
		return true
	}
	c.ResetForKeepAlive()

	// A pipelined next request may already be sitting in the read
	// buffer (received alongside this one); nothing will make the
	// poller report this fd readable again on its own; parse it now.
	if c.HasBufferedInput() {
		return s.handleReadable(c)
	}
	return false
}

// invokeHandler calls the host's Handler, recovering a panic per spec
// §7's PanicHandler contract: if one is configured it is reported with
// the call site, otherwise it is logged; in both cases the panic is then
// re-raised, preserving ordinary Go crash semantics.
func (s *session) invokeHandler(c *conn.Connection, req *reqfsm.Request) (resp *response.Response, ok bool) {
	_, file, line, _ := runtime.Caller(0)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic in request handler: %v", r)
			if s.d.cfg.panicH != nil {
				s.d.cfg.panicH(file, line, msg)
				panic(r)
			}
			log.Conn(s.d.logger(), 0, c.RemoteAddr(), "panic").Error(msg)
			panic(r)
		}
	}()
	return s.d.cfg.handler(c, req)
}

func (s *session) handleProtocolError(c *conn.Connection, err error) bool {
	if perr, ok := err.(*reqfsm.Error); ok {
		resp := response.New(perr.Status)
		resp.AddHeader("Content-Length", "0")
		c.ForceClose()
		c.QueueResponse(resp)
		s.armWrite(c)
		log.Conn(s.d.logger(), 0, c.RemoteAddr(), "protocol_error").
			WithField("status", perr.Status).Warn(perr.Error())
		return false
	}
	return true
}

func (s *session) armWrite(c *conn.Connection) {
	if s.w != nil {
		_ = s.w.setWriteInterest(c.FD(), true)
	}
}

func (s *session) disarmWrite(c *conn.Connection) {
	if s.w != nil {
		_ = s.w.setWriteInterest(c.FD(), false)
	}
}
