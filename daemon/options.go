package daemon

import (
	"crypto/tls"
	"time"

	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/internal/log"
	"github.com/nabbar/httpd/internal/metrics"
	"github.com/nabbar/httpd/reqfsm"
)

// Model selects one of spec §4.5's four threading/polling disciplines.
type Model int

const (
	// ModelExternal drives no internal goroutine: the host calls GetFdset/
	// GetTimeout/RunFromSelect from its own event loop.
	ModelExternal Model = iota
	// ModelSingleThread runs one goroutine owning one poller.Poller.
	ModelSingleThread
	// ModelThreadPool runs N goroutines, each owning its own poller.Poller;
	// the accept loop hands off connections round-robin.
	ModelThreadPool
	// ModelThreadPerConnection spawns one goroutine per accepted
	// connection. That goroutine waits in poll(2) on its own socket (and
	// wake fd) and then does nonblocking Recv/Send; it does not block
	// inside Recv/Send themselves.
	ModelThreadPerConnection
)

// AcceptPolicy decides whether to accept a connection from remoteAddr,
// spec §6's AcceptPolicy callback.
type AcceptPolicy func(remoteAddr string) bool

// NotifyEvent mirrors spec §6's NotifyConnection toe (type-of-event).
type NotifyEvent int

const (
	ConnectionStarted NotifyEvent = iota
	ConnectionClosed
)

// NotifyConnection is spec §6's connection-lifecycle callback.
type NotifyConnection func(c *conn.Connection, event NotifyEvent)

// UriLog is spec §6's per-request URI logging callback.
type UriLog func(uri string, c *conn.Connection)

// PanicHandler is spec §7's fatal-error callback: invoked with the
// reporting call site before the daemon aborts, or logged-and-panicked
// if none is supplied.
type PanicHandler func(file string, line int, msg string)

// UpgradeHandler takes ownership of a raw socket fd once a
// create_response_for_upgrade response has been fully sent, per spec
// §6's protocol-switch escape hatch. The daemon never touches fd again.
type UpgradeHandler func(fd int, remoteAddr string)

// RequestTermination mirrors spec §6's RequestTermination callback,
// invoked once a request's response has finished (or the connection
// closed before one was sent) with a reason string ("completed",
// "timeout", "aborted", "error").
type RequestTermination func(c *conn.Connection, reason string)

type config struct {
	model Model

	addr string
	tls  *tls.Config

	workers     int
	readBufSize int
	limits      reqfsm.Limits
	connTimeout time.Duration
	turbo       bool

	globalLimit int
	ipLimit     int

	handler     conn.Handler
	accept      AcceptPolicy
	notify      NotifyConnection
	uriLog      UriLog
	termination RequestTermination
	panicH      PanicHandler
	upgrade     UpgradeHandler

	logger  log.Logger
	metrics *metrics.Metrics
}

func defaultConfig() config {
	return config{
		model:       ModelSingleThread,
		addr:        ":8080",
		workers:     4,
		readBufSize: 4096,
		limits:      reqfsm.DefaultLimits,
		connTimeout: 60 * time.Second,
		logger:      log.Default(),
	}
}

// Option configures a Daemon at construction time. There is deliberately
// no parsing layer (env/JSON/flags) behind these — spec.md scopes "daemon
// construction options parsing" out as a host-supplied concern — so a
// Daemon is always built from an explicit, typed option list.
type Option func(*config)

func WithAddr(addr string) Option            { return func(c *config) { c.addr = addr } }
func WithModel(m Model) Option                { return func(c *config) { c.model = m } }
func WithWorkers(n int) Option                { return func(c *config) { c.workers = n } }
func WithReadBufferSize(n int) Option         { return func(c *config) { c.readBufSize = n } }
func WithLimits(l reqfsm.Limits) Option       { return func(c *config) { c.limits = l } }
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *config) { c.connTimeout = d }
}
func WithTurbo(on bool) Option                { return func(c *config) { c.turbo = on } }
func WithGlobalConnectionLimit(n int) Option  { return func(c *config) { c.globalLimit = n } }
func WithIPConnectionLimit(n int) Option      { return func(c *config) { c.ipLimit = n } }
func WithHandler(h conn.Handler) Option        { return func(c *config) { c.handler = h } }
func WithAcceptPolicy(p AcceptPolicy) Option   { return func(c *config) { c.accept = p } }
func WithNotify(n NotifyConnection) Option     { return func(c *config) { c.notify = n } }
func WithURILog(l UriLog) Option               { return func(c *config) { c.uriLog = l } }
func WithRequestTermination(t RequestTermination) Option {
	return func(c *config) { c.termination = t }
}
func WithPanicHandler(p PanicHandler) Option  { return func(c *config) { c.panicH = p } }
func WithUpgradeHandler(u UpgradeHandler) Option { return func(c *config) { c.upgrade = u } }
func WithLogger(l log.Logger) Option          { return func(c *config) { c.logger = l } }
func WithMetrics(m *metrics.Metrics) Option   { return func(c *config) { c.metrics = m } }
func WithTLS(cfg *tls.Config) Option          { return func(c *config) { c.tls = cfg } }
