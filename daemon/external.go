package daemon

import (
	"time"

	"github.com/nabbar/httpd/conn"
)

// externalWatcher implements the watcher interface for ModelExternal,
// where there is no poller.Poller to arm — only the write-interest bit
// the host's next GetFdset call reads back out, under d.mu.
type externalWatcher struct {
	d *Daemon
}

func (w *externalWatcher) setWriteInterest(fd int, want bool) error {
	w.d.mu.Lock()
	if want {
		w.d.writeWanted[fd] = true
	} else {
		delete(w.d.writeWanted, fd)
	}
	w.d.mu.Unlock()
	return nil
}

func (w *externalWatcher) rewatch(_ int) {}

func (w *externalWatcher) unwatch(fd int) {
	w.d.mu.Lock()
	delete(w.d.writeWanted, fd)
	w.d.mu.Unlock()
}

// GetFdset returns the fds the host's external select/poll loop must
// watch: the listening socket plus every Normal-bucket connection, split
// into read and write interest, per spec §6's external-loop integration
// surface (ModelExternal).
func (d *Daemon) GetFdset() (readFds, writeFds []int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	readFds = append(readFds, d.listenFD)
	d.shared.EachNormal(func(c *conn.Connection) {
		fd := c.FD()
		readFds = append(readFds, fd)
		if d.writeWanted[fd] {
			writeFds = append(writeFds, fd)
		}
	})
	return
}

// GetTimeout returns how long, in milliseconds, the host's select/poll
// call may block before the nearest idle-timeout deadline needs
// attention.
func (d *Daemon) GetTimeout() int {
	return idleTimeoutMs(d.shared, d.cfg.connTimeout)
}

// RunFromSelect processes whichever fds the host's external loop reports
// ready, per spec §6. The listening socket appearing in readReady accepts
// as many pending connections as are queued; any other fd is looked up
// and driven through the same dispatch logic every other model uses.
func (d *Daemon) RunFromSelect(readReady, writeReady []int) {
	s := &session{d: d, reg: d.shared, w: &externalWatcher{d: d}}

	for _, fd := range readReady {
		if fd == d.listenFD {
			d.externalAccept()
			continue
		}
		if c := d.connByFD(fd); c != nil {
			if s.handleReadable(c) {
				d.externalClose(c)
			}
		}
	}

	for _, fd := range writeReady {
		if c := d.connByFD(fd); c != nil {
			if s.handleWritable(c) {
				d.externalClose(c)
			}
		}
	}

	d.externalSweepTimeouts(s)
}

func (d *Daemon) externalAccept() {
	for {
		c, _, err := d.acceptOne()
		if err != nil || c == nil {
			return
		}
		d.mu.Lock()
		d.connsByFD[c.FD()] = c
		d.mu.Unlock()
		d.shared.Add(c)
	}
}

func (d *Daemon) connByFD(fd int) *conn.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connsByFD[fd]
}

func (d *Daemon) externalClose(c *conn.Connection) {
	fd := c.FD()
	d.shared.MoveToCleanup(c)
	d.closeConnection(c, c.RemoteAddr())
	d.shared.Forget(c)
	d.mu.Lock()
	delete(d.connsByFD, fd)
	delete(d.writeWanted, fd)
	d.mu.Unlock()
}

func (d *Daemon) externalSweepTimeouts(s *session) {
	if d.cfg.connTimeout <= 0 {
		return
	}
	for {
		c := d.shared.OldestTimeout()
		if c == nil || time.Since(c.LastActive()) < d.cfg.connTimeout {
			return
		}
		if m := d.cfg.metrics; m != nil {
			m.IncTimeoutEvictions()
		}
		d.externalClose(c)
	}
}
