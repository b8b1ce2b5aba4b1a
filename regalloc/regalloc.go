// Package regalloc implements the Registry's pluggable allocator sink:
// a default that delegates straight to Go's allocator, and a tracking
// sink that records every live allocation's size, timestamp, goroutine
// id, and call path so a shutdown check can catch leaks and
// double-frees.
package regalloc

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rogpeppe/rcuregistry/internal/genheap"
)

// Handle identifies one allocation made through a Sink.
type Handle uint64

// Sink is the pluggable allocator boundary. Alloc returns a handle and
// the zeroed byte slice backing it; Free retires a handle. The default
// Sink simply wraps make([]byte, n) and lets Go's GC do the rest.
type Sink interface {
	Alloc(size uint64) (Handle, []byte)
	Free(h Handle)
}

var nextHandle atomic.Uint64

// Default is the non-tracking allocator sink used unless the caller
// installs a Tracking sink.
type defaultSink struct{}

func (defaultSink) Alloc(size uint64) (Handle, []byte) {
	return Handle(nextHandle.Add(1)), make([]byte, size)
}

func (defaultSink) Free(Handle) {}

// Default returns the non-tracking allocator sink.
func Default() Sink { return defaultSink{} }

var current Sink = Default()

// SetSink installs the process-wide allocator sink that regnode routes
// every node's backing allocation through. Passing nil restores the
// non-tracking default.
func SetSink(s Sink) {
	if s == nil {
		s = Default()
	}
	current = s
}

// Alloc and Free route through the installed sink, the way reglog's
// package-level helpers route through its installed sink.
func Alloc(size uint64) (Handle, []byte) { return current.Alloc(size) }
func Free(h Handle)                      { current.Free(h) }

type liveAlloc struct {
	handle    Handle
	size      uint64
	timestamp int64
	goroutine string
	callPath  string
	heapIndex int
}

// Tracking is a Sink that records every live allocation so Report can
// surface leaks and double-frees at shutdown.
type Tracking struct {
	mu    sync.Mutex
	live  map[Handle]*liveAlloc
	heap  *genheap.Heap[*liveAlloc]
	clock func() int64
}

// NewTracking returns a Tracking sink. clock supplies a monotonically
// increasing timestamp source; callers that care about wall-clock
// ordering pass one backed by a counter they control, since this
// module cannot call time.Now() (wrapped RCU callers sit in tight
// CAS loops where wall-clock reads would be a needless syscall).
func NewTracking(clock func() int64) *Tracking {
	t := &Tracking{
		live:  make(map[Handle]*liveAlloc),
		clock: clock,
	}
	t.heap = genheap.New[*liveAlloc](nil, func(a, b *liveAlloc) bool {
		return a.timestamp < b.timestamp
	}, func(a **liveAlloc, i int) {
		(*a).heapIndex = i
	})
	return t
}

func callPath() string {
	var pcs [8]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	out := ""
	for {
		f, more := frames.Next()
		if out != "" {
			out += " <- "
		}
		out += f.Function
		if !more {
			break
		}
	}
	return out
}

// Alloc records a new live allocation and returns its handle and
// zeroed backing storage.
func (t *Tracking) Alloc(size uint64) (Handle, []byte) {
	h := Handle(nextHandle.Add(1))
	// The first line of runtime.Stack output is "goroutine <id> [...]".
	var stk [64]byte
	var gid uint64
	fmt.Sscanf(string(stk[:runtime.Stack(stk[:], false)]), "goroutine %d", &gid)
	a := &liveAlloc{
		handle:    h,
		size:      size,
		timestamp: t.clock(),
		goroutine: fmt.Sprintf("g%d", gid),
		callPath:  callPath(),
	}
	t.mu.Lock()
	t.live[h] = a
	t.heap.Push(a)
	t.mu.Unlock()
	return h, make([]byte, size)
}

// Free retires h. Freeing an unknown or already-freed handle is a
// double-free and is reported, not silently ignored.
func (t *Tracking) Free(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.live[h]
	if !ok {
		panic(fmt.Sprintf("regalloc: double-free or unknown handle %d", h))
	}
	delete(t.live, h)
	t.heap.Remove(a.heapIndex)
}

// LiveCount returns the number of allocations that have not been
// freed.
func (t *Tracking) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Report returns a human-readable line per still-live allocation,
// oldest first, for a shutdown leak check.
func (t *Tracking) Report() []string {
	t.mu.Lock()
	items := append([]*liveAlloc(nil), t.heap.Items...)
	t.mu.Unlock()

	ordered := genheap.New[*liveAlloc](items, func(a, b *liveAlloc) bool {
		return a.timestamp < b.timestamp
	}, nil)
	out := make([]string, 0, ordered.Len())
	for ordered.Len() > 0 {
		a := ordered.Pop()
		out = append(out, fmt.Sprintf("handle=%d size=%d goroutine=%s at=%d path=%s", a.handle, a.size, a.goroutine, a.timestamp, a.callPath))
	}
	return out
}
