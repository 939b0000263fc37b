package conn

import "time"

// Registry is the daemon-owned set of intrusive lists a Connection is a
// member of: one of {normal, suspended, cleanup} for IO-state (spec
// invariant §8.1), and at most one timeout-ordered list (spec §4.3's
// XDLL), since a suspended or cleanup connection is not a timeout
// candidate. Registry exports the membership operations package daemon
// needs while keeping the actual prev/next linkage private to package
// conn (only this package may touch a *Connection's list pointers).
//
// ModelExternal and ModelSingleThread use the daemon's one shared
// Registry; in the thread-pool model each worker goroutine owns a Registry
// of its own holding only the connections handed to that worker. Registry
// does no locking of its own.
type Registry struct {
	normal    ioList
	suspended ioList
	cleanup   ioList
	timeout   timeoutList
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Add inserts a freshly created Connection into the normal IO bucket and
// the timeout list, per spec §3's connection lifecycle ("inserted into
// the normal IO DLL and normal-timeout XDLL" on accept).
func (r *Registry) Add(c *Connection) {
	r.normal.pushBack(c)
	r.timeout.pushBack(c)
	c.ioState = Normal
}

// Touch moves c to the most-recently-active end of the timeout list and
// bumps its last-activity timestamp; callers invoke this on every
// successful Recv/Send, per spec §4.3.
func (r *Registry) Touch(c *Connection) {
	c.Touch()
	if c.ioState == Normal {
		r.timeout.moveToTail(c)
	}
}

// Suspend moves c from normal to the suspended bucket and removes it from
// timeout tracking, per spec §4.3's suspend()/resume() operations — a
// suspended connection is parked indefinitely on application backpressure,
// not subject to idle eviction.
func (r *Registry) Suspend(c *Connection) {
	if c.ioState == Normal {
		r.normal.remove(c)
	} else if c.ioState == Suspended {
		return
	}
	r.timeout.remove(c)
	r.suspended.pushBack(c)
	c.ioState = Suspended
}

// Resume moves c back from suspended to normal and re-enters timeout
// tracking with a fresh deadline.
func (r *Registry) Resume(c *Connection) {
	if c.ioState != Suspended {
		return
	}
	r.suspended.remove(c)
	r.normal.pushBack(c)
	c.ioState = Normal
	c.Touch()
	r.timeout.pushBack(c)
}

// MoveToCleanup removes c from whichever IO bucket it currently occupies
// (and from the timeout list, if present) and inserts it into the cleanup
// bucket, per spec invariant §8.1: membership is always exactly one of
// {normal, suspended, cleanup}.
func (r *Registry) MoveToCleanup(c *Connection) {
	switch c.ioState {
	case Normal:
		r.normal.remove(c)
		r.timeout.remove(c)
	case Suspended:
		r.suspended.remove(c)
	case Cleanup:
		return
	}
	r.cleanup.pushBack(c)
	c.ioState = Cleanup
}

// Forget removes c from the cleanup bucket once its teardown (spec §4.6)
// has fully run, releasing the last Registry reference to it.
func (r *Registry) Forget(c *Connection) {
	if c.ioState == Cleanup {
		r.cleanup.remove(c)
	}
}

// OldestTimeout returns the least-recently-active Normal connection, i.e.
// the next idle-eviction candidate, or nil if none is tracked.
func (r *Registry) OldestTimeout() *Connection { return r.timeout.front() }

// EachNormal calls fn for every Normal-bucket connection. fn must not
// change c's IO-state bucket membership while iterating.
func (r *Registry) EachNormal(fn func(*Connection)) { r.normal.each(fn) }

// EachCleanup calls fn for every Cleanup-bucket connection — used by
// shutdown to force every remaining connection through teardown.
func (r *Registry) EachCleanup(fn func(*Connection)) { r.cleanup.each(fn) }

// Counts reports the current size of each bucket, for Daemon.Stats() and
// internal/metrics — observational only, per spec §9's open question on
// active-connection-count raciness outside the external-poll model.
func (r *Registry) Counts() (normal, suspended, cleanup int) {
	return r.normal.len, r.suspended.len, r.cleanup.len
}

// IdleSince reports how long the oldest tracked connection has been idle,
// used by the daemon's timeout scan to compute its next poll deadline.
func (r *Registry) IdleSince(now time.Time) (time.Duration, bool) {
	c := r.timeout.front()
	if c == nil {
		return 0, false
	}
	return now.Sub(c.LastActive()), true
}
