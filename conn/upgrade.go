package conn

import "github.com/nabbar/httpd/wire"

// closedWire replaces a Connection's real wire.Adapter once its fd has
// been handed off to an UpgradeHandler, so the ordinary cleanup path
// (Close) runs unchanged — removing the connection from whatever
// Registry/poller tracked it — without touching the socket a second
// time.
type closedWire struct{ fd int }

func (w *closedWire) Recv([]byte) (int, error) { return 0, wire.ErrWouldBlock }
func (w *closedWire) Send([]byte) (int, error) { return 0, wire.ErrWouldBlock }
func (w *closedWire) Close() error             { return nil }
func (w *closedWire) FD() int                  { return w.fd }

// Upgraded reports whether ReleaseForUpgrade has already run for this
// connection.
func (c *Connection) Upgraded() bool { return c.upgraded }

// PendingUpgrade reports whether the Response currently queued for
// transmission is a create_response_for_upgrade handoff; package daemon
// checks this once WriteReady reports the response fully sent.
func (c *Connection) PendingUpgrade() bool { return c.respUpgrade }

// ReleaseForUpgrade detaches the connection's socket for an
// UpgradeHandler to take over raw reads/writes, per spec §6's protocol-
// switch escape hatch. It releases the FSM's pool exactly as Close does,
// but never calls wire.Close on the real fd — the caller now owns it.
func (c *Connection) ReleaseForUpgrade() int {
	fd := c.wire.FD()
	c.wire = &closedWire{fd: fd}
	c.ioState = Cleanup
	c.upgraded = true
	c.pool.Release()
	return fd
}
