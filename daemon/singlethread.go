package daemon

import (
	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/daemon/poller"
	"github.com/nabbar/httpd/itc"
)

// startSingleThread runs the whole daemon — accept, read, write, timeout
// sweep — on one goroutine with one poller, grounded on the teacher's
// core/engine.go accept/dispatch loop generalized to the FSM-driven
// session machinery in events.go/worker.go.
func (d *Daemon) startSingleThread() error {
	p, err := poller.New()
	if err != nil {
		return err
	}
	ch, err := itc.New()
	if err != nil {
		_ = p.Close()
		return err
	}

	w := &worker{
		d:               d,
		poll:            p,
		registry:        d.shared,
		wake:            ch,
		conns:           make(map[int]*conn.Connection),
		inbox:           make(chan acceptedConn, 64),
		acceptsListener: true,
	}
	w.siblings = []*worker{w}
	d.workers = []*worker{w}

	d.wg.Add(1)
	go w.run()
	return nil
}
