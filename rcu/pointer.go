package rcu

import "sync/atomic"

// Pointer is a publish/dereference slot for RCU-managed data: writers
// use Assign/Xchg/CompareAndSwap to publish a new value with release
// semantics, and readers use Dereference to load it with
// acquire/consume semantics inside a read-section.
//
// This is the same shape as gatomic.LoadPointer/StorePointer/
// CompareAndSwapPointer, but built on atomic.Pointer[T] instead of
// unsafe.Pointer + manual casts, since Go's generic atomics make the
// unsafe indirection unnecessary.
type Pointer[T any] struct {
	p atomic.Pointer[T]
}

// Dereference loads the current value with acquire semantics. Callers
// must hold an open read-section for as long as the returned pointer
// is in use (rcusafe enforces the read-section requirement).
func (p *Pointer[T]) Dereference() *T {
	return p.p.Load()
}

// Assign publishes val with release semantics. Must only be called by
// a writer; never from inside a read-section (rcusafe enforces this).
func (p *Pointer[T]) Assign(val *T) {
	p.p.Store(val)
}

// Xchg publishes val and returns the previously published value.
func (p *Pointer[T]) Xchg(val *T) *T {
	return p.p.Swap(val)
}

// CompareAndSwap publishes new in place of old, atomically, reporting
// whether the swap happened. This is the primitive add_unique and
// add_replace are built on.
func (p *Pointer[T]) CompareAndSwap(old, new *T) bool {
	return p.p.CompareAndSwap(old, new)
}
