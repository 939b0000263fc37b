// Package reqfsm implements the per-request HTTP/1.x parsing and framing
// state machine. It is the incremental, suspension-aware rework of the
// teacher's all-at-once core/http/parser.go: instead of parsing a complete
// buffer in a single call, FSM.Feed consumes whatever bytes are currently
// available and returns as soon as it needs more input, so a connection can
// be suspended and resumed at any point without losing parse progress.
package reqfsm

// State names the current position of one HTTP request/response exchange
// in its lifecycle. The set and transitions mirror libmicrohttpd's
// connection state machine, the system this module's specification was
// distilled from.
type State int

const (
	Init State = iota
	URLReceived
	HeaderPartReceived
	HeadersReceived
	HeadersProcessed
	ContinueSending
	ContinueSent
	BodyReceived
	FooterPartReceived
	FootersReceived
	HeadersSending
	HeadersSent
	NormalBodyReady
	NormalBodyUnready
	ChunkedBodyReady
	ChunkedBodyUnready
	BodySent
	FootersSending
	FootersSent
	Closed
	InCleanup
	Upgrade
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case URLReceived:
		return "URL_RECEIVED"
	case HeaderPartReceived:
		return "HEADER_PART_RECEIVED"
	case HeadersReceived:
		return "HEADERS_RECEIVED"
	case HeadersProcessed:
		return "HEADERS_PROCESSED"
	case ContinueSending:
		return "CONTINUE_SENDING"
	case ContinueSent:
		return "CONTINUE_SENT"
	case BodyReceived:
		return "BODY_RECEIVED"
	case FooterPartReceived:
		return "FOOTER_PART_RECEIVED"
	case FootersReceived:
		return "FOOTERS_RECEIVED"
	case HeadersSending:
		return "HEADERS_SENDING"
	case HeadersSent:
		return "HEADERS_SENT"
	case NormalBodyReady:
		return "NORMAL_BODY_READY"
	case NormalBodyUnready:
		return "NORMAL_BODY_UNREADY"
	case ChunkedBodyReady:
		return "CHUNKED_BODY_READY"
	case ChunkedBodyUnready:
		return "CHUNKED_BODY_UNREADY"
	case BodySent:
		return "BODY_SENT"
	case FootersSending:
		return "FOOTERS_SENDING"
	case FootersSent:
		return "FOOTERS_SENT"
	case Closed:
		return "CLOSED"
	case InCleanup:
		return "IN_CLEANUP"
	case Upgrade:
		return "UPGRADE"
	default:
		return "UNKNOWN"
	}
}

// IsReadPhase reports whether the state belongs to the request-parsing half
// of the exchange (as opposed to response transmission).
func (s State) IsReadPhase() bool {
	switch s {
	case Init, URLReceived, HeaderPartReceived, HeadersReceived, HeadersProcessed,
		ContinueSending, ContinueSent, BodyReceived, FooterPartReceived, FootersReceived:
		return true
	default:
		return false
	}
}

// KeepAlive is a monotonic decision: it only ever moves from May toward
// Must, reflecting the spec invariant that once a close is required
// (HTTP/1.0 without Connection: keep-alive, an explicit Connection: close,
// or a protocol error) nothing can move it back to "may keep open".
type KeepAlive int

const (
	KeepAliveMay KeepAlive = iota
	KeepAliveMust
)

// Lower clamps ka to the more restrictive of ka and other — used so merging
// a header-derived decision into the connection's running decision can only
// tighten it, never loosen it.
func (ka KeepAlive) Lower(other KeepAlive) KeepAlive {
	if other == KeepAliveMust {
		return KeepAliveMust
	}
	return ka
}
