//go:build !linux

package itc

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// pipeChannel is the classic self-pipe fallback for platforms without
// eventfd (darwin/bsd), used identically by the daemon's kqueue-backed
// poller.
type pipeChannel struct {
	r, w  int
	armed atomic.Bool
}

// New constructs the platform's preferred Channel: a self-pipe elsewhere.
func New() (Channel, error) {
	var fds [2]int
	// pipe2 is not available on darwin; use pipe plus fcntl everywhere.
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &pipeChannel{r: fds[0], w: fds[1]}, nil
}

func (c *pipeChannel) FD() int { return c.r }

func (c *pipeChannel) Wake() {
	if !c.armed.CompareAndSwap(false, true) {
		return
	}
	var b [1]byte
	_, _ = unix.Write(c.w, b[:])
}

func (c *pipeChannel) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(c.r, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	c.armed.Store(false)
}

func (c *pipeChannel) Close() error {
	_ = unix.Close(c.w)
	return unix.Close(c.r)
}
