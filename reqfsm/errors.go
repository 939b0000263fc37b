package reqfsm

import "fmt"

// Error carries the HTTP status code a protocol-level parse failure should
// be answered with, per the transport/protocol/resource/application/fatal
// taxonomy: anything reqfsm raises is a protocol error (§7), always paired
// with a status the daemon writes back before closing.
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("reqfsm: %d %s", e.Status, e.Msg)
}

var (
	// ErrNeedMore is not a protocol error: it signals Feed consumed what it
	// could and needs another readiness notification before it can make
	// progress. Callers must not treat it as a failure.
	ErrNeedMore = fmt.Errorf("reqfsm: need more data")

	ErrBadRequestLine  = &Error{Status: 400, Msg: "malformed request line"}
	ErrBadHeaderLine   = &Error{Status: 400, Msg: "malformed header line"}
	ErrBadChunkSize    = &Error{Status: 400, Msg: "malformed chunk size"}
	ErrURITooLong      = &Error{Status: 414, Msg: "request-target too long"}
	ErrEntityTooLarge  = &Error{Status: 413, Msg: "request body exceeds limit"}
	ErrExpectationFail = &Error{Status: 417, Msg: "unsupported Expect value"}
	ErrHeaderTooLarge  = &Error{Status: 431, Msg: "request header fields too large"}
)
