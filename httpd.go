package httpd

import (
	"context"
	"fmt"
	"os"

	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/daemon"
	"github.com/nabbar/httpd/response"
)

// StatusError is the typed, code-carrying error this module returns for
// protocol- and resource-level failures, in the idiom of a minimal
// code-carrying wrapper rather than a full custom-error framework (see
// DESIGN.md for why the fuller nabbar-golib/errors machinery was not
// adopted wholesale).
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("httpd: status %d", e.Code)
	}
	return fmt.Sprintf("httpd: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StartDaemon constructs a *daemon.Daemon from opts and, unless it was
// configured with daemon.WithModel(daemon.ModelExternal), launches
// whichever internal goroutines its threading model requires, per spec
// §6's start_daemon entry point.
func StartDaemon(opts ...daemon.Option) (*daemon.Daemon, error) {
	d, err := daemon.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Start(); err != nil {
		return nil, err
	}
	return d, nil
}

// StopDaemon performs spec §5's graceful shutdown: quiesce, drain, close.
// It blocks until every goroutine the Daemon started has exited or ctx is
// done, per spec §6's stop_daemon entry point.
func StopDaemon(ctx context.Context, d *daemon.Daemon) error {
	return d.Stop(ctx)
}

// CreateResponseFromBuffer builds a Response whose body is the supplied
// buffer, served inline, per spec §6's create_response_from_buffer. buf
// must not be modified until the Response is fully sent and released.
func CreateResponseFromBuffer(status int, buf []byte) *response.Response {
	r := response.New(status)
	r.SetInlineBody(buf)
	return r
}

// CreateResponseFromFD builds a Response whose body is read from f
// starting at offset for length bytes (length < 0 means "to EOF"),
// served via sendfile with a buffered fallback, per spec §6's
// create_response_from_fd.
func CreateResponseFromFD(status int, f *os.File, offset, length int64) *response.Response {
	r := response.New(status)
	r.SetFileBody(f, offset, length)
	return r
}

// CreateResponseFromCallback builds a Response whose body is produced on
// demand by pull, sent chunked, per spec §6's
// create_response_from_callback. bufSize <= 0 uses a sensible default.
func CreateResponseFromCallback(status int, pull response.PullFunc, bufSize int) *response.Response {
	r := response.New(status)
	r.SetCallbackBody(pull, bufSize)
	return r
}

// CreateResponseForUpgrade builds a 101 Response that, once fully sent,
// causes the daemon to stop driving the connection's FSM and hand the
// raw socket to the Daemon's UpgradeHandler instead of deciding keep-alive
// — spec §6's protocol-switch escape hatch (e.g. WebSocket). Register that
// handler on the Daemon itself via daemon.WithUpgradeHandler; this constructor only
// marks the Response so the daemon knows to perform the handoff once it
// has gone out.
func CreateResponseForUpgrade(protocol string) *response.Response {
	r := response.New(101)
	r.AddHeader("Connection", "Upgrade")
	r.AddHeader("Upgrade", protocol)
	r.SetUpgrade(true)
	return r
}

// AddResponseHeader appends a header to resp, per spec §6's
// add_response_header. Safe to call any time before the Response has
// been queued for transmission.
func AddResponseHeader(resp *response.Response, name, value string) {
	resp.AddHeader(name, value)
}

// Suspend parks c out of the daemon's normal poll rotation, per spec
// §6's suspend/resume application-driven backpressure pair. Call this
// synchronously from within a conn.Handler.
func Suspend(c *conn.Connection) { c.Suspend() }

// Resume returns c to the daemon's normal poll rotation after a prior
// Suspend. Safe to call from any goroutine, at any later time.
func Resume(c *conn.Connection) { c.Resume() }
