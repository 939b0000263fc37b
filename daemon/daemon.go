// Package daemon implements the connection manager: it owns the listening
// socket, accepts connections under one of four threading/polling models,
// drives each Connection's reqfsm.FSM to completion, and performs ordered
// cleanup (spec §4.5, §4.6). It is grounded on the teacher's
// core/engine.go accept/dispatch loop (single-thread model) and
// core/pools/worker_pool.go's round-robin work distribution (thread-pool
// model), generalized from router dispatch to the FSM-driven lifecycle
// this spec requires — see DESIGN.md.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/internal/log"
	"github.com/nabbar/httpd/wire"
)

// Daemon is the connection manager (spec §3, Daemon). Exactly one Daemon
// owns one listening socket; construct with New and drive it with Start
// (internal models) or GetFdset/GetTimeout/RunFromSelect (ModelExternal).
type Daemon struct {
	cfg config

	listenFD int

	// mu guards ipCounts and the shared registry (ModelExternal/
	// ModelSingleThread only) and is acquired only on accept/suspend/
	// resume/cleanup transitions, per spec §5 — never on the hot
	// read/write path.
	mu        sync.Mutex
	ipCounts  map[string]int
	shared    *conn.Registry      // used by ModelExternal and ModelSingleThread
	connsByFD map[int]*conn.Connection // ModelExternal only; workers index their own conns
	writeWanted map[int]bool      // ModelExternal only — see externalWatcher

	// globalSem enforces cfg.globalLimit: a weighted semaphore sized to
	// the limit, TryAcquire'd on accept and Release'd on close. nil when
	// no global limit was configured (unbounded admission).
	globalSem   *semaphore.Weighted
	globalCount int64 // best-effort counter for ActiveConnections/metrics only

	quiesce atomic.Bool
	wg      sync.WaitGroup

	workers []*worker // ModelSingleThread (len 1) and ModelThreadPool (len cfg.workers)

	closeOnce sync.Once
}

// New binds and listens on cfg.addr (applying every Option) but does not
// yet accept connections or start any goroutine; call Start (or, under
// ModelExternal, begin calling GetFdset/RunFromSelect) to do that.
func New(opts ...Option) (*Daemon, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.handler == nil {
		return nil, errors.New("daemon: WithHandler is required")
	}

	fd, err := listenTCP(cfg.addr)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:         cfg,
		listenFD:    fd,
		ipCounts:    make(map[string]int),
		shared:      conn.NewRegistry(),
		connsByFD:   make(map[int]*conn.Connection),
		writeWanted: make(map[int]bool),
	}
	if cfg.globalLimit > 0 {
		d.globalSem = semaphore.NewWeighted(int64(cfg.globalLimit))
	}
	return d, nil
}

// listenTCP creates a nonblocking, dual-stack-capable TCP listening
// socket via raw syscalls (accept4-equivalent semantics require a raw fd;
// net.Listen does not expose one), per spec §6 "Process state: one
// listening socket (TCP, optionally IPv6 dualstack)".
func listenTCP(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid port %q: %w", portStr, err)
	}

	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return 0, err
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return 0, err
		}
		var sa unix.SockaddrInet4
		sa.Port = port
		if host != "" && host != "0.0.0.0" {
			ip := net.ParseIP(host).To4()
			copy(sa.Addr[:], ip)
		}
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return 0, err
		}
		if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
			unix.Close(fd)
			return 0, err
		}
		return fd, nil
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}
	// Dual-stack: do not set IPV6_V6ONLY, so the socket also accepts
	// IPv4-mapped connections, per spec §6.
	var sa unix.SockaddrInet6
	sa.Port = port
	if host != "" && host != "::" {
		ip := net.ParseIP(host).To16()
		copy(sa.Addr[:], ip)
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

// Start launches whatever internal goroutines cfg.model requires.
// ModelExternal starts none — the host drives the daemon via GetFdset/
// GetTimeout/RunFromSelect instead.
func (d *Daemon) Start() error {
	switch d.cfg.model {
	case ModelExternal:
		return nil
	case ModelSingleThread:
		return d.startSingleThread()
	case ModelThreadPool:
		return d.startThreadPool()
	case ModelThreadPerConnection:
		return d.startThreadPerConnection()
	default:
		return fmt.Errorf("daemon: unknown model %d", d.cfg.model)
	}
}

// Stop signals shutdown (spec §5 Cancellation): the quiesce flag is set,
// every internal goroutine is woken and joined, and any connection still
// open is forced to CLOSED and torn down. It blocks until every goroutine
// this Daemon started has exited or ctx is done.
func (d *Daemon) Stop(ctx context.Context) error {
	d.quiesce.Store(true)

	for _, w := range d.workers {
		w.wake.Wake()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	// ModelExternal has no internal goroutine to drain d.shared on
	// quiesce (the host stops calling RunFromSelect on its own schedule),
	// so force-close whatever is left here, suspended connections included.
	if d.cfg.model == ModelExternal {
		d.mu.Lock()
		open := make([]*conn.Connection, 0, len(d.connsByFD))
		for _, c := range d.connsByFD {
			open = append(open, c)
		}
		d.mu.Unlock()
		for _, c := range open {
			d.externalClose(c)
		}
	}

	d.closeOnce.Do(func() {
		unix.Close(d.listenFD)
	})
	return nil
}

// ActiveConnections returns the current (normal, suspended, cleanup)
// bucket sizes, aggregated across every worker registry for ThreadPool.
// Per spec §9's open question, this is observational/best-effort outside
// ModelExternal — no internal code path depends on its exact value.
func (d *Daemon) ActiveConnections() (normal, suspended, cleanup int) {
	d.mu.Lock()
	n, s, c := d.shared.Counts()
	d.mu.Unlock()
	normal, suspended, cleanup = n, s, c
	for _, w := range d.workers {
		if w.registry == d.shared {
			continue // ModelSingleThread's worker uses d.shared, counted above
		}
		wn, ws, wc := w.registry.Counts()
		normal += wn
		suspended += ws
		cleanup += wc
	}
	return
}

func (d *Daemon) logger() log.Logger {
	if d.cfg.logger != nil {
		return d.cfg.logger
	}
	return log.Default()
}

// checkLimits enforces spec §4.5's global/per-IP connection caps and the
// host's AcceptPolicy. The policy and the global semaphore are checked
// without the daemon mutex; only the per-IP counter hashtable is updated
// under it (accept-path only, per spec §5). remoteAddr is the peer's
// host:port; the port is stripped to key the per-IP counter.
func (d *Daemon) checkLimits(remoteAddr string) bool {
	if d.cfg.accept != nil && !d.cfg.accept(remoteAddr) {
		return false
	}
	ip := remoteAddr
	if idx := strings.LastIndexByte(ip, ':'); idx >= 0 {
		ip = ip[:idx]
	}

	if d.globalSem != nil && !d.globalSem.TryAcquire(1) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.ipLimit > 0 && d.ipCounts[ip] >= d.cfg.ipLimit {
		if d.globalSem != nil {
			d.globalSem.Release(1)
		}
		return false
	}
	d.ipCounts[ip]++
	d.globalCount++
	return true
}

func (d *Daemon) releaseLimit(remoteAddr string) {
	ip := remoteAddr
	if idx := strings.LastIndexByte(ip, ':'); idx >= 0 {
		ip = ip[:idx]
	}
	d.mu.Lock()
	if n := d.ipCounts[ip]; n <= 1 {
		delete(d.ipCounts, ip)
	} else {
		d.ipCounts[ip] = n - 1
	}
	d.globalCount--
	d.mu.Unlock()
	if d.globalSem != nil {
		d.globalSem.Release(1)
	}
}

// acceptOne performs one accept4-equivalent call on the listening socket:
// SOCK_NONBLOCK|SOCK_CLOEXEC, per spec §4.5. It returns the new
// Connection and its remote address on success, (nil, "", nil) on EAGAIN
// (nothing pending) or when the connection is refused by the limits, and
// (nil, "", err) on a genuine accept or TLS-setup failure (e.g. EMFILE).
func (d *Daemon) acceptOne() (*conn.Connection, string, error) {
	nfd, sa, err := unix.Accept4(d.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, "", nil
		}
		return nil, "", err
	}

	remote := sockaddrString(sa)
	if !d.checkLimits(remote) {
		unix.Close(nfd)
		return nil, "", nil
	}

	var adapter wire.Adapter
	if d.cfg.tls != nil {
		// wrapTLS always consumes nfd itself (via the os.File it wraps it
		// in), on both success and failure, so it must not be closed
		// again here.
		a, terr := wrapTLS(nfd, d.cfg.tls)
		if terr != nil {
			return nil, "", terr
		}
		adapter = a
	} else {
		adapter = wire.NewPlain(nfd)
	}
	c := conn.New(adapter, remote, d.cfg.limits, d.cfg.readBufSize)

	if d.cfg.turbo {
		// Turbo mode performs a speculative non-blocking read right away
		// instead of waiting for the poller's first readiness
		// notification, per spec §4.2's "optimistic reads" behavior.
		_, _, _ = c.HandleRead()
	}

	if d.cfg.notify != nil {
		d.cfg.notify(c, ConnectionStarted)
	}
	if m := d.cfg.metrics; m != nil {
		m.IncAccepts()
	}
	log.Conn(d.logger(), 0, remote, "accept").Debug("connection accepted")
	return c, remote, nil
}

// wrapTLS turns an accepted raw nonblocking socket fd into a wire.Adapter
// that performs a TLS handshake lazily on first Recv/Send, per
// wire.NewTLS's doc comment. net.FileConn is used to hand the fd to
// crypto/tls (which only speaks net.Conn); the duplicate fd it creates
// is recovered via SyscallConn so the adapter can still be registered
// with a poller under its own fd number.
func wrapTLS(nfd int, cfg *tls.Config) (*wire.TLSAdapter, error) {
	f := os.NewFile(uintptr(nfd), "")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	sc, ok := nc.(syscall.Conn)
	if !ok {
		nc.Close()
		return nil, fmt.Errorf("daemon: accepted connection does not expose a raw fd for TLS")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		nc.Close()
		return nil, err
	}
	var dupFD int
	if ctlErr := raw.Control(func(fd uintptr) { dupFD = int(fd) }); ctlErr != nil {
		nc.Close()
		return nil, ctlErr
	}
	return wire.NewTLS(tls.Server(nc, cfg), dupFD), nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}

// closeConnection performs spec §4.6's ordered teardown: notify, release
// pool, close socket; the caller is responsible for unlinking c from
// whatever Registry currently tracks it (step (g), "unlink from all
// DLLs") before or after this call, since only the owning
// goroutine/Registry knows which one that is.
func (d *Daemon) closeConnection(c *conn.Connection, remoteAddr string) {
	if d.cfg.notify != nil {
		d.cfg.notify(c, ConnectionClosed)
	}
	if !d.cfg.turbo {
		_ = c.Shutdown()
	}
	_ = c.Close()
	d.releaseLimit(remoteAddr)
	log.Conn(d.logger(), 0, remoteAddr, "closed").Debug("connection closed")
}
