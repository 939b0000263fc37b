package wire

import (
	"crypto/tls"
	"net"
)

// TLSAdapter wraps a tls.Conn behind the Adapter interface so the rest of
// the library never special-cases TLS. There is no third-party TLS
// implementation anywhere in the retrieval pack this module was built
// from; crypto/tls is the idiomatic Go choice for this concern (see
// DESIGN.md's standard-library justification).
type TLSAdapter struct {
	conn *tls.Conn
	fd   int
}

// NewTLS wraps conn (already handshaken, or lazily handshaking on first
// Read/Write per crypto/tls's own behavior) and the raw fd it rides on,
// needed only so the adapter can still be registered with a poller.
func NewTLS(conn *tls.Conn, fd int) *TLSAdapter {
	return &TLSAdapter{conn: conn, fd: fd}
}

func (t *TLSAdapter) FD() int { return t.fd }

func (t *TLSAdapter) Recv(buf []byte) (int, error) {
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *TLSAdapter) Send(buf []byte) (int, error) {
	n, err := t.conn.Write(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *TLSAdapter) Close() error {
	return t.conn.Close()
}

// Shutdown performs the optional graceful close-notify alert that turbo
// mode skips in favor of going straight to Close. tls.Conn has no
// half-close; CloseWrite sends close_notify without tearing down the
// read side, mirroring Plain.Shutdown's intent as closely as TLS allows.
func (t *TLSAdapter) Shutdown() error {
	return t.conn.CloseWrite()
}
