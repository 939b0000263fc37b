// Package conn implements the per-socket Connection: the glue between a
// wire.Adapter, a reqfsm.FSM, a pool.Pool, and the response currently being
// transmitted. It is the generalization of the teacher's core/engine.go
// Connection type (fd, state, readBuf, request, context, lastActive,
// keepAlive) away from router-based dispatch and towards the FSM-driven
// request lifecycle spec §4.3 describes.
package conn

import (
	"strings"
	"time"

	"github.com/nabbar/httpd/header"
	"github.com/nabbar/httpd/pool"
	"github.com/nabbar/httpd/reqfsm"
	"github.com/nabbar/httpd/response"
	"github.com/nabbar/httpd/wire"
)

// IOState is which of the three daemon-managed buckets a Connection
// currently belongs to (spec §4.5/§4.6): Normal connections are polled for
// readiness, Suspended connections are parked awaiting an application
// callback, and Cleanup connections are mid-teardown.
type IOState int

const (
	Normal IOState = iota
	Suspended
	Cleanup
)

// Handler is the host-supplied request callback (spec §6's
// RequestHandler). It is invoked once a Request reaches HeadersProcessed;
// ok mirrors the spec's YES/NO return — false means "close the connection
// without a response" (an application error per spec §7), true with a nil
// resp means "no action yet, call again after resume" (the connection
// must have been suspended via c.Suspend first), and true with a non-nil
// resp queues it for transmission.
type Handler func(c *Connection, req *reqfsm.Request) (resp *response.Response, ok bool)

// Connection is a single accepted socket plus everything needed to drive
// one HTTP/1.x exchange at a time across it.
type Connection struct {
	// intrusive list linkage — see list.go
	ioPrev, ioNext *Connection
	toPrev, toNext *Connection

	ioState IOState

	wire wire.Adapter
	pool *pool.Pool
	fsm  *reqfsm.FSM

	readBuf    []byte
	readFilled int

	resp        *response.Response
	respPhase   respPhase
	respUpgrade bool
	keepAlive   bool
	closeAfter  bool
	lastActive  time.Time
	remoteAddr  string
	upgraded    bool

	suspendedResume func()

	bodyAccum       []byte
	continueBuf     []byte
	continueOff     int
	continuePending bool

	dispatched bool
}

// Dispatched reports whether the application Handler has already been
// invoked for the request currently in flight.
func (c *Connection) Dispatched() bool { return c.dispatched }

// MarkDispatched records that the Handler has been invoked, so the daemon
// does not call it a second time while the same request is still
// draining its body.
func (c *Connection) MarkDispatched() { c.dispatched = true }

type respPhase int

const (
	phaseNone respPhase = iota
	phaseHeaders
	phaseBody
	phaseFooters
)

// New wraps an already-accepted, already-nonblocking socket adapter.
func New(w wire.Adapter, remoteAddr string, limits reqfsm.Limits, readBufSize int) *Connection {
	if readBufSize <= 0 {
		readBufSize = 4096
	}
	return &Connection{
		wire:       w,
		pool:       pool.New(),
		fsm:        reqfsm.New(limits),
		readBuf:    make([]byte, readBufSize),
		remoteAddr: remoteAddr,
		lastActive: time.Now(),
	}
}

// HasBufferedInput reports whether bytes are already sitting in the
// connection's read buffer, unconsumed — e.g. a pipelined second request
// that arrived in the same Recv as the first. Bytes already buffered here
// will not generate a further readiness notification from the poller on
// their own.
func (c *Connection) HasBufferedInput() bool { return c.readFilled > 0 }

func (c *Connection) FD() int              { return c.wire.FD() }
func (c *Connection) State() reqfsm.State  { return c.fsm.State() }
func (c *Connection) IOState() IOState     { return c.ioState }
func (c *Connection) RemoteAddr() string   { return c.remoteAddr }
func (c *Connection) LastActive() time.Time { return c.lastActive }

// Touch bumps the idle-timeout deadline; package daemon calls this on every
// readiness event, then repositions the connection in the XDLL.
func (c *Connection) Touch() { c.lastActive = time.Now() }

// HandleRead reads whatever is available and feeds it to the FSM. It
// reports headersReady=true once HeadersProcessed is reached, so the daemon
// can hand Request() to the application Handler; it returns
// bodyDone=true once the full body (and trailers) have been consumed, at
// which point the connection is ready to have a Response queued and begin
// transmission.
func (c *Connection) HandleRead() (headersReady, bodyDone bool, err error) {
	for {
		if c.readFilled == len(c.readBuf) {
			c.growReadBuf()
		}
		n, rerr := c.wire.Recv(c.readBuf[c.readFilled:])
		if n > 0 {
			c.readFilled += n
		}
		if rerr != nil {
			if rerr == wire.ErrWouldBlock {
				break
			}
			return false, false, rerr
		}
		if n == 0 {
			break
		}
	}

	consumed, ferr := c.fsm.Feed(c.readBuf[:c.readFilled], c.pool)
	c.compact(consumed)

	if ferr != nil && ferr != reqfsm.ErrNeedMore {
		return false, false, ferr
	}

	switch c.fsm.State() {
	case reqfsm.HeadersProcessed:
		return true, false, nil
	case reqfsm.FootersReceived:
		return true, true, nil
	default:
		return false, false, nil
	}
}

// BeginBody tells the FSM the application has decided what to do about
// Expect:100-continue (if anything) and body reading may proceed. It
// installs a body sink so the raw upload bytes (stripped of chunk/footer
// framing) accumulate in Body() as they are parsed, per spec §4.1's
// BODY_RECEIVED exit condition.
func (c *Connection) BeginBody() {
	c.bodyAccum = c.bodyAccum[:0]
	c.fsm.SetBodySink(func(b []byte) { c.bodyAccum = append(c.bodyAccum, b...) })
	c.fsm.BeginBody()
}

// Body returns the upload bytes accumulated since the last BeginBody call.
// Valid only until the next ResetForKeepAlive.
func (c *Connection) Body() []byte { return c.bodyAccum }

const continueLine = "HTTP/1.1 100 Continue\r\n\r\n"

// QueueContinue stages the literal 100-Continue status line for
// transmission, per spec §4.1's CONTINUE_SENDING/CONTINUE_SENT states.
// The daemon calls this instead of BeginBody when the request carries
// Expect: 100-continue and the application has not already supplied a
// response.
func (c *Connection) QueueContinue() {
	c.continueBuf = []byte(continueLine)
	c.continueOff = 0
	c.continuePending = true
}

// WriteContinue drains the staged 100-Continue line through the wire
// adapter; once done it calls BeginBody automatically, matching the FSM's
// CONTINUE_SENT -> BODY_RECEIVED transition.
func (c *Connection) WriteContinue() (done bool, err error) {
	if !c.continuePending {
		return true, nil
	}
	for c.continueOff < len(c.continueBuf) {
		n, werr := c.wire.Send(c.continueBuf[c.continueOff:])
		c.continueOff += n
		if werr != nil {
			if werr == wire.ErrWouldBlock {
				return false, nil
			}
			return false, werr
		}
	}
	c.continuePending = false
	c.BeginBody()
	return true, nil
}

// ContinueBody re-enters HandleRead's loop for connections whose headers
// were already processed but whose body/trailers were not yet complete
// when HandleRead last returned.
func (c *Connection) ContinueBody() (bodyDone bool, err error) {
	_, done, err := c.HandleRead()
	return done, err
}

func (c *Connection) growReadBuf() {
	nb := make([]byte, len(c.readBuf)*2)
	copy(nb, c.readBuf[:c.readFilled])
	c.readBuf = nb
}

func (c *Connection) compact(n int) {
	if n <= 0 {
		return
	}
	remaining := c.readFilled - n
	copy(c.readBuf, c.readBuf[n:c.readFilled])
	c.readFilled = remaining
}

// QueueResponse attaches r for transmission and begins serializing its
// headers; the caller (daemon) should call WriteReady in a loop (driven by
// write readiness) until it reports done. The caller must have already
// settled this exchange's keep-alive decision (e.g. any ForceClose call)
// before calling QueueResponse, since PrepareHeaders bakes the Connection
// header into the serialized block here.
func (c *Connection) QueueResponse(r *response.Response) {
	c.resp = r
	c.respUpgrade = r.IsUpgrade()
	mustClose := c.KeepAliveDecision() == reqfsm.KeepAliveMust
	r.PrepareHeaders(c.fsm.Request().Version, mustClose)
	c.respPhase = phaseHeaders
}

// WriteReady pushes as much of the queued response as the socket currently
// accepts. done reports the whole response (headers+body) has been sent
// (-> BodySent); the daemon then decides keep-alive vs close.
func (c *Connection) WriteReady() (done bool, err error) {
	if c.resp == nil {
		return true, nil
	}
	if c.respPhase == phaseHeaders {
		ok, err := c.resp.WriteHeaders(c.wire)
		if err != nil || !ok {
			return false, err
		}
		c.respPhase = phaseBody
	}
	if c.respPhase == phaseBody {
		ok, err := c.resp.WriteBody(c.wire)
		if err != nil || !ok {
			return false, err
		}
		c.respPhase = phaseNone
		return true, nil
	}
	return true, nil
}

// ResponseStatus returns the status code of the response currently (or
// most recently) queued for transmission, for metrics/logging. It
// returns 0 if no response has been queued yet this exchange.
func (c *Connection) ResponseStatus() int {
	if c.resp == nil {
		return 0
	}
	return c.resp.Status
}

// KeepAliveDecision merges the FSM's request-derived decision (HTTP
// version, Connection header) with the response's own requirement (e.g. a
// 500 that chooses to close). It is monotonic: once Must, later calls in
// the same exchange cannot loosen it back to May.
func (c *Connection) KeepAliveDecision() reqfsm.KeepAlive {
	ka := c.fsm.Request().KeepAlive
	if c.closeAfter {
		ka = ka.Lower(reqfsm.KeepAliveMust)
	}
	if c.resp != nil {
		if v, ok := c.resp.Headers.Get(header.ResponseHeader, "Connection"); ok && strings.Contains(strings.ToLower(v), "close") {
			ka = ka.Lower(reqfsm.KeepAliveMust)
		}
	}
	return ka
}

// ForceClose marks the connection to close after the current response,
// regardless of what the request would otherwise allow — used for
// protocol errors and fatal conditions (spec §7).
func (c *Connection) ForceClose() { c.closeAfter = true }

// ResetForKeepAlive invalidates the just-completed exchange's pool and FSM
// state so the connection can parse the next pipelined/keep-alive request,
// per the pool-reset-on-keep-alive invariant (spec §3).
func (c *Connection) ResetForKeepAlive() {
	c.pool.Reset()
	c.fsm.Reset()
	if c.resp != nil {
		c.resp.Unref()
	}
	c.resp = nil
	c.respPhase = phaseNone
	c.respUpgrade = false
	c.bodyAccum = nil
	c.continueBuf = nil
	c.continueOff = 0
	c.continuePending = false
	c.dispatched = false
}

// Request exposes the in-flight parsed request, for the daemon's dispatch
// and logging paths.
func (c *Connection) Request() *reqfsm.Request { return c.fsm.Request() }

// SetResumeHook installs the callback the daemon runs when this
// connection is resumed — re-registering it with a poller and moving it
// back to the Registry's normal bucket. Package daemon calls this before
// every Handler invocation so that if the application suspends, Resume
// (called from any goroutine, at any later time) knows how to re-arm the
// connection without Connection itself knowing about registries or
// pollers.
func (c *Connection) SetResumeHook(fn func()) { c.suspendedResume = fn }

// Suspend parks the connection out of the daemon's normal poll rotation
// (spec §4.3's suspend()); the application calls this synchronously from
// within its Handler to signal backpressure. The daemon observes
// IOState()==Suspended after the Handler returns and performs the actual
// Registry/poller bookkeeping.
func (c *Connection) Suspend() { c.ioState = Suspended }

// Resume returns the connection to Normal and invokes the daemon's resume
// hook (spec §4.3's resume()), guaranteed to re-queue the connection
// before the next poll returns. Safe to call from any goroutine.
func (c *Connection) Resume() {
	c.ioState = Normal
	if cb := c.suspendedResume; cb != nil {
		c.suspendedResume = nil
		cb()
	}
}

// shutdowner is implemented by wire adapters that support an optional
// graceful half-close ahead of Close (wire.Plain's SHUT_RDWR, TLS's
// close-notify). Turbo mode skips calling it, per spec's "disables
// optional shutdown() calls" behavior.
type shutdowner interface{ Shutdown() error }

// Shutdown performs the adapter's optional graceful half-close, if it
// supports one. Safe to call even when it does not (a no-op then).
func (c *Connection) Shutdown() error {
	if sd, ok := c.wire.(shutdowner); ok {
		return sd.Shutdown()
	}
	return nil
}

// Close performs the ordered teardown from spec §4.6: release the FSM's
// request/pool state, then the socket. The intrusive-list unlinking and
// thread-join steps live in package daemon, which owns the lists this
// Connection is a member of.
func (c *Connection) Close() error {
	c.ioState = Cleanup
	if c.resp != nil {
		c.resp.Unref()
		c.resp = nil
	}
	c.pool.Release()
	return c.wire.Close()
}
