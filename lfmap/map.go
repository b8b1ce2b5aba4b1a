// Package lfmap implements the Registry's single-level lock-free hash
// map primitive: per-bucket chains, CAS-based
// publish for every write, wait-free traversal that tolerates
// concurrent mutation, and writer-only resize/destroy.
//
// Grounded on ctrie.Map's publish discipline (every mutation replaces
// an immutable node via atomic.Pointer/CAS, never mutated in place)
// and its hash/equality-function-pair constructor shape
// (NewWithFuncs), flattened from ctrie's branching hash-trie down to a
// single level of bucket chains. The map does not resize on its own:
// the bucket count changes only when a writer calls Resize.
package lfmap

import (
	"sync"
	"sync/atomic"

	"github.com/rogpeppe/rcuregistry/regerr"
)

// entry is one immutable link in a bucket chain. Logical deletion sets
// removed; physical unlinking never happens here (the owning table is
// rebuilt wholesale on Resize, and the node payload's own reclamation
// is the caller's concern via rcu.CallDeferred).
type entry[K, V any] struct {
	key     K
	val     V
	removed atomic.Bool
	next    atomic.Pointer[entry[K, V]]
}

type table[K, V any] struct {
	buckets []atomic.Pointer[entry[K, V]]
	mask    uint64
}

func newTable[K, V any](n int) *table[K, V] {
	if n < 1 {
		n = 1
	}
	// round up to a power of two so (hash & mask) is a valid bucket index
	sz := 1
	for sz < n {
		sz <<= 1
	}
	return &table[K, V]{
		buckets: make([]atomic.Pointer[entry[K, V]], sz),
		mask:    uint64(sz - 1),
	}
}

func (t *table[K, V]) bucketFor(hash uint64) *atomic.Pointer[entry[K, V]] {
	return &t.buckets[hash&t.mask]
}

// Map is a lock-free single-level hash map keyed by K,
// storing values of type V (typically a pointer type such as
// *regnode.Base).
type Map[K, V any] struct {
	eqFunc   func(K, K) bool
	hashFunc func(K) uint64

	tbl  atomic.Pointer[table[K, V]]
	resz sync.Mutex // serializes Resize/Destroy against each other only

	approxSize atomic.Int64
}

// New returns an empty Map using eqFunc/hashFunc for key comparison and
// hashing, with an initial bucket count of initBuckets (rounded up to
// a power of two).
func New[K, V any](eqFunc func(K, K) bool, hashFunc func(K) uint64, initBuckets int) *Map[K, V] {
	m := &Map[K, V]{eqFunc: eqFunc, hashFunc: hashFunc}
	if initBuckets <= 0 {
		initBuckets = 16
	}
	m.tbl.Store(newTable[K, V](initBuckets))
	return m
}

// Iter positions a traversal over a Map's bucket chains. Traversal is
// wait-free and tolerates concurrent Add/Del: an already-removed node
// may still be observed, and a concurrently-added node may or may not
// be.
type Iter[K, V any] struct {
	tbl       *table[K, V]
	bucketIdx int
	cur       *entry[K, V]
}

// First positions an Iter on the first live entry of m.
func (m *Map[K, V]) First() *Iter[K, V] {
	it := &Iter[K, V]{tbl: m.tbl.Load(), bucketIdx: -1}
	it.advanceBucket()
	return it
}

func (it *Iter[K, V]) advanceBucket() {
	for it.bucketIdx++; it.bucketIdx < len(it.tbl.buckets); it.bucketIdx++ {
		e := it.tbl.buckets[it.bucketIdx].Load()
		for e != nil && e.removed.Load() {
			e = e.next.Load()
		}
		if e != nil {
			it.cur = e
			return
		}
	}
	it.cur = nil
}

// Next advances it to the next live entry, returning false when
// traversal is exhausted.
func (it *Iter[K, V]) Next() bool {
	if it.cur == nil {
		return false
	}
	e := it.cur.next.Load()
	for e != nil && e.removed.Load() {
		e = e.next.Load()
	}
	if e != nil {
		it.cur = e
		return true
	}
	it.advanceBucket()
	return it.cur != nil
}

// Get returns the key/value the iterator currently points at. ok is
// false once traversal is exhausted.
func (it *Iter[K, V]) Get() (key K, val V, ok bool) {
	if it.cur == nil {
		return key, val, false
	}
	return it.cur.key, it.cur.val, true
}

// Lookup positions an Iter on the first live entry matching key, or an
// exhausted Iter if none is found.
func (m *Map[K, V]) Lookup(key K) *Iter[K, V] {
	tbl := m.tbl.Load()
	hash := m.hashFunc(key)
	e := tbl.bucketFor(hash).Load()
	for e != nil {
		if !e.removed.Load() && m.eqFunc(e.key, key) {
			return &Iter[K, V]{tbl: tbl, bucketIdx: int(hash & tbl.mask), cur: e}
		}
		e = e.next.Load()
	}
	return &Iter[K, V]{tbl: tbl, bucketIdx: len(tbl.buckets)}
}

// Get is a convenience wrapper over Lookup for callers that just want
// the value.
func (m *Map[K, V]) Get(key K) (V, bool) {
	it := m.Lookup(key)
	_, v, ok := it.Get()
	return v, ok
}

// Add unconditionally prepends a new entry for key/val to its bucket
// chain. Duplicate keys are allowed.
func (m *Map[K, V]) Add(key K, val V) {
	tbl := m.tbl.Load()
	bucket := tbl.bucketFor(m.hashFunc(key))
	e := &entry[K, V]{key: key, val: val}
	for {
		head := bucket.Load()
		e.next.Store(head)
		if bucket.CompareAndSwap(head, e) {
			m.approxSize.Add(1)
			return
		}
	}
}

// AddUnique atomically tests for an existing live key and inserts val
// only if absent. It returns the value that ends up resident for key
// (either the freshly inserted val, with inserted=true, or the
// pre-existing value, with inserted=false).
func (m *Map[K, V]) AddUnique(key K, val V) (resident V, inserted bool) {
	tbl := m.tbl.Load()
	bucket := tbl.bucketFor(m.hashFunc(key))
	for {
		head := bucket.Load()
		if existing, ok := findLive(head, key, m.eqFunc); ok {
			return existing.val, false
		}
		e := &entry[K, V]{key: key, val: val}
		e.next.Store(head)
		if bucket.CompareAndSwap(head, e) {
			m.approxSize.Add(1)
			return val, true
		}
		// Lost the race; loop and re-check for a concurrently
		// inserted duplicate before retrying.
	}
}

// AddReplace atomically retires any existing live entry for key and
// installs val in its place, returning the displaced value if there
// was one.
func (m *Map[K, V]) AddReplace(key K, val V) (displaced V, hadDisplaced bool) {
	tbl := m.tbl.Load()
	bucket := tbl.bucketFor(m.hashFunc(key))
	for {
		head := bucket.Load()
		if existing, ok := findLive(head, key, m.eqFunc); ok {
			if !existing.removed.CompareAndSwap(false, true) {
				// Someone else retired it first; retry the whole op
				// so we either find it already gone (insert fresh)
				// or find a newer live entry.
				continue
			}
			e := &entry[K, V]{key: key, val: val}
			for {
				h2 := bucket.Load()
				e.next.Store(h2)
				if bucket.CompareAndSwap(h2, e) {
					return existing.val, true
				}
			}
		}
		e := &entry[K, V]{key: key, val: val}
		e.next.Store(head)
		if bucket.CompareAndSwap(head, e) {
			m.approxSize.Add(1)
			var zero V
			return zero, false
		}
	}
}

// Replace replaces the entry it currently points at with val,
// returning regerr.NodeNotFound if that entry has since been removed.
func (m *Map[K, V]) Replace(it *Iter[K, V], val V) error {
	if it.cur == nil {
		return regerr.NodeNotFound.Err()
	}
	if !it.cur.removed.CompareAndSwap(false, true) {
		return regerr.NodeNotFound.Err()
	}
	key := it.cur.key
	tbl := it.tbl
	bucket := tbl.bucketFor(m.hashFunc(key))
	e := &entry[K, V]{key: key, val: val}
	for {
		head := bucket.Load()
		e.next.Store(head)
		if bucket.CompareAndSwap(head, e) {
			return nil
		}
	}
}

// Del logically removes the entry located by key, returning
// regerr.NodeIsRemoved if it was already removed or absent.
func (m *Map[K, V]) Del(key K) error {
	tbl := m.tbl.Load()
	bucket := tbl.bucketFor(m.hashFunc(key))
	e := bucket.Load()
	for e != nil {
		if m.eqFunc(e.key, key) {
			if e.removed.CompareAndSwap(false, true) {
				m.approxSize.Add(-1)
				return nil
			}
			return regerr.NodeIsRemoved.Err()
		}
		e = e.next.Load()
	}
	return regerr.NodeIsRemoved.Err()
}

func findLive[K, V any](head *entry[K, V], key K, eq func(K, K) bool) (*entry[K, V], bool) {
	for e := head; e != nil; e = e.next.Load() {
		if !e.removed.Load() && eq(e.key, key) {
			return e, true
		}
	}
	return nil, false
}

// Count returns the exact live-entry count along with the approximate
// counts observed just before and after the exact scan, mirroring
// cds_lfht_count_nodes' (approx_before, count, approx_after) triple.
func (m *Map[K, V]) Count() (approxBefore, exact, approxAfter int64) {
	approxBefore = m.approxSize.Load()
	tbl := m.tbl.Load()
	var n int64
	for i := range tbl.buckets {
		e := tbl.buckets[i].Load()
		for e != nil {
			if !e.removed.Load() {
				n++
			}
			e = e.next.Load()
		}
	}
	approxAfter = m.approxSize.Load()
	return approxBefore, n, approxAfter
}

// Resize rebuilds the table with n buckets (rounded up to a power of
// two), rehashing every live entry. Writer-only.
func (m *Map[K, V]) Resize(n int) {
	m.resz.Lock()
	defer m.resz.Unlock()

	old := m.tbl.Load()
	next := newTable[K, V](n)
	for i := range old.buckets {
		e := old.buckets[i].Load()
		for e != nil {
			if !e.removed.Load() {
				hash := m.hashFunc(e.key)
				b := next.bucketFor(hash)
				ne := &entry[K, V]{key: e.key, val: e.val}
				ne.next.Store(b.Load())
				b.Store(ne)
			}
			e = e.next.Load()
		}
	}
	m.tbl.Store(next)
}

// Destroy tears down the map. It requires the map to be logically
// empty: no live entries may remain, since a live entry may still have
// reclamation callbacks queued against it.
func (m *Map[K, V]) Destroy() error {
	m.resz.Lock()
	defer m.resz.Unlock()
	_, exact, _ := m.Count()
	if exact != 0 {
		return regerr.NotEmpty.Errf("Destroy called on a map with %d live entries", exact)
	}
	m.tbl.Store(newTable[K, V](1))
	return nil
}
