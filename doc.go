/*
Package httpd is an embeddable HTTP/1.0 and HTTP/1.1 server library built
around a single per-connection request/response state machine, grounded
on libmicrohttpd's design: a library a process links in and drives from
its own threading model, not a standalone daemon binary.

The library separates into layers, each its own package:

  - reqfsm drives one HTTP exchange's parsing and framing incrementally,
    byte by byte as they arrive, so a connection can be suspended and
    resumed at any point without losing parse progress.
  - wire hides plaintext sockets and TLS behind an Adapter interface
    (Recv/Send/Close/FD), so neither reqfsm nor conn ever sees a net.Conn
    or a crypto/tls detail directly.
  - response is the reference-counted object a handler builds and
    queues for transmission, with three pluggable body sources: an
    inline buffer, a sendfile-backed file descriptor, or a pull
    callback streamed as chunked transfer-encoding.
  - conn ties one accepted socket to one reqfsm.FSM, one pool.Pool (a
    per-connection bump allocator reset on every keep-alive cycle), and
    the response currently being transmitted.
  - daemon owns the listening socket and accepts connections under one
    of four threading/polling models: external event loop integration
    (GetFdset/GetTimeout/RunFromSelect), a single internal poller
    goroutine, a fixed pool of poller goroutines, or one goroutine per
    connection.

This top-level package is the host-facing surface: StartDaemon/
StopDaemon, the response constructors (CreateResponseFromBuffer/FD/
Callback), response header mutation, and CreateResponseForUpgrade for
protocol switches (e.g. WebSocket). Suspend/Resume backpressure lives on
*conn.Connection, with thin Suspend/Resume wrappers here; the Handler
signature is conn.Handler.

Basic usage:

	d, err := httpd.StartDaemon(
		daemon.WithAddr(":8080"),
		daemon.WithHandler(func(c *conn.Connection, req *reqfsm.Request) (*response.Response, bool) {
			resp := httpd.CreateResponseFromBuffer(200, []byte("hello\n"))
			httpd.AddResponseHeader(resp, "Content-Type", "text/plain")
			return resp, true
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer httpd.StopDaemon(context.Background(), d)

A Daemon constructed with daemon.WithModel(daemon.ModelExternal) starts
no internal goroutine; the host drives it from its own select/poll/epoll
loop via d.GetFdset/d.GetTimeout/d.RunFromSelect instead.
*/
package httpd
