//go:build nosafety

package rcusafe

import "github.com/rogpeppe/rcuregistry/rcu"

// Ticket is a zero-overhead passthrough to rcu.Ticket when built with
// -tags nosafety: no registration/test-mode bookkeeping is kept.
type Ticket struct {
	inner *rcu.Ticket
}

// Runtime is a zero-overhead passthrough to rcu.Runtime.
type Runtime struct {
	rt *rcu.Runtime
}

// NewRuntime returns a passthrough Runtime.
func NewRuntime(rt *rcu.Runtime) *Runtime { return &Runtime{rt: rt} }

func (r *Runtime) SetTestMode(bool)                 {}
func (r *Runtime) IsTestMode() bool                 { return false }
func (r *Runtime) DisableSafetyChecks()             {}
func (r *Runtime) EnableSafetyChecks()               {}
func (r *Runtime) AreSafetyChecksEnabled() bool      { return true }

func (r *Runtime) RegisterThread() *Ticket {
	return &Ticket{inner: r.rt.RegisterThread()}
}

func (r *Runtime) UnregisterThread(t *Ticket) { r.rt.UnregisterThread(t.inner) }
func (r *Runtime) ReadLock(t *Ticket)         { r.rt.ReadLock(t.inner) }
func (r *Runtime) ReadUnlock(t *Ticket)       { r.rt.ReadUnlock(t.inner) }

func (r *Runtime) RequireReadSection(t *Ticket) error   { return nil }
func (r *Runtime) RequireNoReadSection(t *Ticket) error { return nil }

func (r *Runtime) Synchronize(t *Ticket) { r.rt.Synchronize() }
func (r *Runtime) Barrier(t *Ticket)     { r.rt.Barrier() }

func (r *Runtime) CallDeferred(fn func()) { r.rt.CallDeferred(fn) }

func (t *Ticket) Inner() *rcu.Ticket { return t.inner }

func Dereference[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T]) *T {
	return p.Dereference()
}

func Assign[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T], val *T) {
	p.Assign(val)
}

func Xchg[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T], val *T) *T {
	return p.Xchg(val)
}

func CompareAndSwap[T any](r *Runtime, t *Ticket, p *rcu.Pointer[T], old, new *T) bool {
	return p.CompareAndSwap(old, new)
}
