package regkey

import "sync/atomic"

// idCounter is the process-wide fresh-id source: a fresh unsigned key
// is produced by atomically incrementing a counter that starts at 1.
// Starting the atomic at zero and incrementing before reading yields
// that same 1, 2, 3, ... sequence.
var idCounter atomic.Uint64

// NextID atomically allocates a fresh non-zero numeric key.
func NextID() Key {
	return Uint(idCounter.Add(1))
}
