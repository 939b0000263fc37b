//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import "golang.org/x/sys/unix"

// kqueuePoller adapts BSD/macOS kqueue to the Poller interface,
// generalizing the teacher's core/poller/kqueue.go (EVFILT_READ only, no
// write-interest tracking) to register/unregister EVFILT_WRITE on demand
// and to surface EV_EOF as Error, matching epollPoller's contract.
type kqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// New constructs the platform's preferred Poller: kqueue elsewhere.
func New() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kqfd: kqfd, events: make([]unix.Kevent_t, 256)}, nil
}

func (p *kqueuePoller) apply(changes []unix.Kevent_t) error {
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, wantWrite bool) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE},
	}
	if wantWrite {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	return p.apply(changes)
}

func (p *kqueuePoller) SetWriteInterest(fd int, want bool) error {
	flag := uint16(unix.EV_DELETE)
	if want {
		flag = unix.EV_ADD | unix.EV_ENABLE
	}
	return p.apply([]unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag}})
}

func (p *kqueuePoller) Remove(fd int) error {
	return p.apply([]unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	})
}

func (p *kqueuePoller) Wait(timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	byFD := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		fd := int(e.Ident)
		ev, ok := byFD[fd]
		if !ok {
			ev = &Event{FD: fd}
			byFD[fd] = ev
			order = append(order, fd)
		}
		switch e.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if e.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			ev.Error = true
		}
	}
	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFD[fd])
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
