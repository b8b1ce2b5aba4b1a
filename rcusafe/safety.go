//go:build !nosafety

package rcusafe

import (
	"sync/atomic"

	"github.com/rogpeppe/rcuregistry/rcu"
	"github.com/rogpeppe/rcuregistry/regerr"
	"github.com/rogpeppe/rcuregistry/reglog"
)

var nextTicketID atomic.Uint64

// Ticket records the per-thread discipline state the C original kept
// in pthread-specific storage: whether it is registered, and (via the
// embedded rcu.Ticket) its read-lock nesting depth.
type Ticket struct {
	inner      *rcu.Ticket
	id         uint64
	registered atomic.Bool
}

// Runtime wraps an rcu.Runtime with contract validation.
type Runtime struct {
	rt *rcu.Runtime

	testMode        atomic.Bool
	safetyDisabled  atomic.Bool
	callbackTicketM atomic.Pointer[Ticket]
}

// NewRuntime wraps rt with contract checking.
func NewRuntime(rt *rcu.Runtime) *Runtime {
	return &Runtime{rt: rt}
}

// SetTestMode toggles whether contract violations are downgraded from
// fatal panics to logged warnings returning a regerr.Code, so test
// suites can exercise violation paths without crashing the process.
func (r *Runtime) SetTestMode(on bool) {
	r.testMode.Store(on)
}

// IsTestMode reports the current test-mode setting.
func (r *Runtime) IsTestMode() bool {
	return r.testMode.Load()
}

// DisableSafetyChecks opens a window (used only around root-type
// bootstrap: in gtsm.Init, and when a copy of the root type is added
// to a nested TSM) in which contract violations are silently allowed, so the
// self-referential root type can be published without tripping the
// "type must resolve to an existing distinct node" style checks layered
// on top of this package.
func (r *Runtime) DisableSafetyChecks() {
	r.safetyDisabled.Store(true)
}

// EnableSafetyChecks closes the bootstrap window opened by
// DisableSafetyChecks.
func (r *Runtime) EnableSafetyChecks() {
	r.safetyDisabled.Store(false)
}

// AreSafetyChecksEnabled reports whether checks are currently active.
func (r *Runtime) AreSafetyChecksEnabled() bool {
	return !r.safetyDisabled.Load()
}

// violation reports a contract violation. When safety checks are
// disabled (the bootstrap window) it returns nil, letting the caller
// fall through to the real operation despite the failed precondition.
// Otherwise it returns a non-nil error: callers skip the underlying
// operation rather than perform it against violated invariants (e.g. a
// ReadUnlock with no open section must not be allowed to underflow the
// depth counter), whether or not test mode downgrades the violation
// from a panic to a logged warning.
func (r *Runtime) violation(code regerr.Code, format string, args ...any) error {
	if r.safetyDisabled.Load() {
		return nil
	}
	err := code.Errf(format, args...)
	if r.testMode.Load() {
		reglog.Noticef("rcusafe (test mode): %v", err)
		return err
	}
	reglog.Errorf("rcusafe: fatal contract violation: %v", err)
	panic(err)
}

// RegisterThread registers a new reader/writer ticket.
func (r *Runtime) RegisterThread() *Ticket {
	t := &Ticket{
		inner: r.rt.RegisterThread(),
		id:    nextTicketID.Add(1),
	}
	t.registered.Store(true)
	return t
}

// UnregisterThread removes t. Unregistering with an open read-section
// is a fatal contract violation.
func (r *Runtime) UnregisterThread(t *Ticket) {
	if t.inner.Depth() != 0 {
		if err := r.violation(regerr.ReadSectionOpen, "UnregisterThread called with depth=%d", t.inner.Depth()); err != nil {
			return
		}
	}
	t.registered.Store(false)
	r.rt.UnregisterThread(t.inner)
}

// ReadLock opens or re-enters a read-section. The ticket must be
// registered.
func (r *Runtime) ReadLock(t *Ticket) {
	if !t.registered.Load() {
		if err := r.violation(regerr.NotRegistered, "ReadLock called on unregistered ticket"); err != nil {
			return
		}
	}
	r.rt.ReadLock(t.inner)
}

// ReadUnlock closes one level of read-section nesting.
func (r *Runtime) ReadUnlock(t *Ticket) {
	if t.inner.Depth() <= 0 {
		if err := r.violation(regerr.NoReadSection, "ReadUnlock called with no open read-section"); err != nil {
			return
		}
	}
	r.rt.ReadUnlock(t.inner)
}

// RequireReadSection asserts the caller's ticket has an open section.
// Dereference calls it; lfmap and tsm do not.
func (r *Runtime) RequireReadSection(t *Ticket) error {
	if t == nil || t.inner.Depth() <= 0 {
		return r.violation(regerr.NoReadSection, "read-side operation requires an open read-section")
	}
	return nil
}

// RequireNoReadSection is called by write-side/publish operations that
// must not run from inside a read-section.
func (r *Runtime) RequireNoReadSection(t *Ticket) error {
	if t != nil && t.inner.Depth() > 0 {
		return r.violation(regerr.ReadSectionOpen, "write-side operation forbidden inside an open read-section")
	}
	return nil
}

// Synchronize blocks until every reader with an open section at call
// time has left it. Forbidden from inside a read-section.
func (r *Runtime) Synchronize(t *Ticket) {
	if err := r.RequireNoReadSection(t); err != nil {
		return
	}
	r.rt.Synchronize()
}

// Barrier waits for all previously queued callbacks to finish.
// Forbidden inside a read-section and inside any callback.
func (r *Runtime) Barrier(t *Ticket) {
	if err := r.RequireNoReadSection(t); err != nil {
		return
	}
	if r.isCallbackTicket(t) {
		if err := r.violation(regerr.NestedFromCallback, "Barrier called from within a deferred callback"); err != nil {
			return
		}
	}
	r.rt.Barrier()
}

// CallDeferred enqueues fn to run on the callback goroutine after the
// next grace period. On the first call the callback goroutine
// auto-identifies itself for IsCallbackThread/isCallbackTicket checks.
func (r *Runtime) CallDeferred(fn func()) {
	r.rt.CallDeferred(func() {
		r.ensureCallbackTicketIdentified()
		fn()
	})
}

func (r *Runtime) ensureCallbackTicketIdentified() {
	if r.callbackTicketM.Load() != nil {
		return
	}
	// Best-effort identification: the first goroutine to execute a
	// deferred callback on this Runtime is marked as the callback
	// ticket so later Barrier/Synchronize calls made (incorrectly)
	// from within a callback are caught.
	t := &Ticket{inner: &rcu.Ticket{}, id: nextTicketID.Add(1)}
	t.registered.Store(true)
	r.callbackTicketM.CompareAndSwap(nil, t)
}

func (r *Runtime) isCallbackTicket(t *Ticket) bool {
	cb := r.callbackTicketM.Load()
	return cb != nil && t != nil && cb.id == t.id
}

// Inner returns the underlying unchecked rcu.Ticket, for callers that
// need its state directly (registry reads its Depth to decide whether
// to open a read section).
func (t *Ticket) Inner() *rcu.Ticket {
	return t.inner
}

// Dereference validates that t holds an open read-section, then loads
// p with acquire semantics.
func Dereference[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T]) *T {
	if err := r.RequireReadSection(t); err != nil {
		return nil
	}
	return p.Dereference()
}

// Assign validates that t holds no open read-section, then publishes
// val with release semantics.
func Assign[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T], val *T) {
	if err := r.RequireNoReadSection(t); err != nil {
		return
	}
	p.Assign(val)
}

// Xchg validates discipline then publishes val, returning the
// previous value.
func Xchg[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T], val *T) *T {
	if err := r.RequireNoReadSection(t); err != nil {
		return nil
	}
	return p.Xchg(val)
}

// CompareAndSwap validates discipline then attempts the publish.
func CompareAndSwap[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T], old, new *T) bool {
	if err := r.RequireNoReadSection(t); err != nil {
		return false
	}
	return p.CompareAndSwap(old, new)
}
