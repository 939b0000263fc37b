package daemon

import (
	"github.com/nabbar/httpd/conn"
	"github.com/nabbar/httpd/daemon/poller"
	"github.com/nabbar/httpd/itc"
)

// startThreadPool runs cfg.workers poller goroutines, each with its own
// Registry and Poller; the first worker also owns the listening socket
// and round-robins newly accepted connections across all of them. This
// generalizes the teacher's core/pools/worker_pool.go fixed-size
// round-robin job distribution from a static job queue to live connection
// handoff between poller goroutines — see DESIGN.md.
func (d *Daemon) startThreadPool() error {
	n := d.cfg.workers
	if n <= 0 {
		n = 4
	}

	workers := make([]*worker, 0, n)
	cleanup := func() {
		for _, w := range workers {
			_ = w.poll.Close()
			_ = w.wake.Close()
		}
	}

	for i := 0; i < n; i++ {
		p, err := poller.New()
		if err != nil {
			cleanup()
			return err
		}
		ch, err := itc.New()
		if err != nil {
			_ = p.Close()
			cleanup()
			return err
		}
		workers = append(workers, &worker{
			d:        d,
			poll:     p,
			registry: conn.NewRegistry(),
			wake:     ch,
			conns:    make(map[int]*conn.Connection),
			inbox:    make(chan acceptedConn, 64),
		})
	}

	workers[0].acceptsListener = true
	for _, w := range workers {
		w.siblings = workers
	}
	d.workers = workers

	for _, w := range workers {
		d.wg.Add(1)
		go w.run()
	}
	return nil
}
