package daemon

import "github.com/nabbar/httpd/daemon/poller"

// pollerWatcher adapts a poller.Poller to the watcher interface events.go
// drives. A Connection stays registered for read readiness for its whole
// Normal lifetime; only Suspend removes it from the poller entirely (so a
// parked connection generates no events while the application holds it)
// and Resume re-adds it, matching spec §4.3's suspend()/resume() pair.
type pollerWatcher struct {
	p poller.Poller
}

func (w *pollerWatcher) setWriteInterest(fd int, want bool) error {
	return w.p.SetWriteInterest(fd, want)
}

func (w *pollerWatcher) rewatch(fd int) {
	_ = w.p.Add(fd, false)
}

func (w *pollerWatcher) unwatch(fd int) {
	_ = w.p.Remove(fd)
}
