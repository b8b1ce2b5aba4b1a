// Package rcu implements the grace-period reclamation engine that
// underlies the whole Registry: thread registration, nestable
// read-sections, deferred callbacks run after a grace period,
// synchronize, and barrier.
//
// rcu itself trusts its caller to respect the contracts described on
// each function; it performs no discipline checking. rcusafe wraps
// every one of these operations with validation that can be compiled
// out via the "nosafety" build tag for zero overhead. Most callers
// should use rcusafe, not this package, directly.
//
// The atomic-pointer publish/dereference pair is modeled on
// gatomic.LoadPointer/StorePointer/CompareAndSwapPointer, adapted to
// use atomic.Pointer[T] directly instead of unsafe.Pointer now that Go
// has generic atomics. The grace-period epoch mechanism is modeled on
// watcher.Value's version counter plus sync.Cond broadcast.
package rcu

import (
	"sync"
	"sync/atomic"

	"github.com/rogpeppe/rcuregistry/reglog"
)

// Ticket represents a single registered reader/writer. Because Go has
// no ambient thread-local storage, callers hold their Ticket
// explicitly and pass it to ReadLock/ReadUnlock, instead of the C
// original's implicit per-pthread state.
type Ticket struct {
	depth atomic.Int32
}

// Depth reports the current read-section nesting depth for this
// ticket. Used by rcusafe to validate discipline.
func (t *Ticket) Depth() int32 {
	return t.depth.Load()
}

type deferredCall struct {
	hook func()
}

// Runtime is a single grace-period domain. Most programs use one
// process-wide Runtime, wrapped by rcusafe and passed to gtsm.Init.
type Runtime struct {
	initOnce sync.Once

	mu      sync.Mutex
	cond    sync.Cond
	tickets map[*Ticket]struct{}

	queue        []deferredCall
	pendingCount int64

	callbackOnce   sync.Once
	callbackTicket *Ticket
}

// New returns a new, initialized Runtime. Init is idempotent and only
// needed if you construct a Runtime with &Runtime{} directly.
func New() *Runtime {
	r := &Runtime{}
	r.Init()
	return r
}

// Init prepares r for use. It is safe to call more than once; repeat
// calls are an idempotent no-op that logs a warning.
func (r *Runtime) Init() {
	first := false
	r.initOnce.Do(func() {
		first = true
		r.tickets = make(map[*Ticket]struct{})
		r.cond.L = &r.mu
	})
	if !first {
		reglog.Noticef("rcu: Init called more than once; ignoring")
	}
}

// RegisterThread registers a new reader/writer and returns the Ticket
// it must use for all subsequent read-section and publish calls.
func (r *Runtime) RegisterThread() *Ticket {
	t := &Ticket{}
	r.mu.Lock()
	r.tickets[t] = struct{}{}
	r.mu.Unlock()
	return t
}

// UnregisterThread removes t from the runtime. The caller must not
// hold an open read-section; rcusafe enforces this as a contract
// violation.
func (r *Runtime) UnregisterThread(t *Ticket) {
	r.mu.Lock()
	delete(r.tickets, t)
	r.mu.Unlock()
}

// ReadLock opens (or re-enters, if already open) a read-section on t.
// Read-sections nest: a thread may call ReadLock multiple times and
// must call ReadUnlock the same number of times.
func (r *Runtime) ReadLock(t *Ticket) {
	t.depth.Add(1)
}

// ReadUnlock closes one level of t's read-section nesting. When the
// depth reaches zero, any Synchronize call waiting on t is woken.
func (r *Runtime) ReadUnlock(t *Ticket) {
	if t.depth.Add(-1) == 0 {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

// Synchronize blocks the caller until every reader that had an open
// read-section when Synchronize was called has left it. It must not be
// called from inside a read-section (rcusafe enforces this).
func (r *Runtime) Synchronize() {
	r.mu.Lock()
	snapshot := make([]*Ticket, 0, len(r.tickets))
	for t := range r.tickets {
		if t.depth.Load() > 0 {
			snapshot = append(snapshot, t)
		}
	}
	for !allQuiescent(snapshot) {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

func allQuiescent(snapshot []*Ticket) bool {
	for _, t := range snapshot {
		if t.depth.Load() > 0 {
			return false
		}
	}
	return true
}

// CallDeferred enqueues fn to run on the dedicated callback goroutine
// after the next grace period. The callback goroutine is started (and
// auto-registered with the runtime) on the first call.
func (r *Runtime) CallDeferred(fn func()) {
	r.callbackOnce.Do(func() {
		r.callbackTicket = r.RegisterThread()
		go r.runCallbackLoop()
	})
	r.mu.Lock()
	r.pendingCount++
	r.queue = append(r.queue, deferredCall{hook: fn})
	r.cond.Broadcast()
	r.mu.Unlock()
}

// IsCallbackThread reports whether t is this runtime's dedicated
// callback ticket, the one the callback goroutine registers for itself
// on the first CallDeferred.
func (r *Runtime) IsCallbackThread(t *Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t != nil && t == r.callbackTicket
}

func (r *Runtime) runCallbackLoop() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 {
			r.cond.Wait()
		}
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		// The callback goroutine itself must never be treated as
		// holding an open read-section while callbacks run, and a
		// callback body must not call Synchronize/Barrier (rcusafe
		// enforces the latter); waiting for the grace period here is
		// the runtime's own job, not the callback's.
		r.Synchronize()

		for _, c := range batch {
			c.hook()
			r.mu.Lock()
			r.pendingCount--
			r.cond.Broadcast()
			r.mu.Unlock()
		}
	}
}

// Barrier blocks until every callback that was queued before Barrier
// was called has finished running. It must not be called from inside
// a read-section or from inside a callback (rcusafe enforces this).
//
// Unlike the C original, where several call sites invoke rcu_barrier
// twice in a row (apparently to cover chained callbacks that queue
// further callbacks), Barrier here simply waits until the pending
// count reaches zero; callbacks registered with CallDeferred must not
// themselves call CallDeferred again in a way that depends on being
// observed by an in-flight Barrier call. A single call is sufficient
// and sufficient-once semantics are relied on throughout this module.
func (r *Runtime) Barrier() {
	r.mu.Lock()
	for r.pendingCount > 0 {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

// PendingCallbacks returns the number of deferred callbacks that have
// been queued but not yet executed. Used for diagnostics only.
func (r *Runtime) PendingCallbacks() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingCount
}
