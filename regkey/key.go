// Package regkey implements the Registry's union-typed Key and ordered
// Path: a key is either an unsigned 64-bit integer
// or an owned, deep-copied string, and a path is an ordered sequence of
// keys from the global root to some node.
//
// String keys are canonicalized through a small sync.Map-backed cache
// before being stored, the way anyunique.Set canonicalizes arbitrary
// hashable values: two Key values built from equal strings end up
// sharing the same backing string, which is safe in Go (strings are
// immutable) and avoids the repeated allocation the C original pays
// for with strdup on every key_create_string/key_copy.
package regkey

import (
	"fmt"
	"hash/maphash"
	"sync"
)

// Tag identifies which arm of the union a Key holds.
type Tag int

const (
	// TagNone marks an invalid/zero Key.
	TagNone Tag = iota
	TagUint
	TagString
)

// MaxStringLen is the maximum length, in bytes, of a string key (spec
// §3: "non-empty, <= 63 bytes").
const MaxStringLen = 63

// Key is a tagged union: either a non-zero uint64 or a non-empty,
// length-bounded string. The zero Key (TagNone) is invalid except as
// the "assign me a fresh id" sentinel accepted by node-creation paths.
type Key struct {
	tag Tag
	u   uint64
	s   string
}

// Uint builds a numeric Key. A value of zero is only legal on node
// creation paths that substitute a freshly generated id; IsValid
// reports it as invalid on its own.
func Uint(n uint64) Key {
	return Key{tag: TagUint, u: n}
}

// String builds a string Key, rejecting empty or oversized strings.
// The returned error is a plain error, not a regerr code; callers that
// only want the zero-value-on-error behavior can ignore it and check
// IsValid.
func String(s string) (Key, error) {
	if len(s) == 0 {
		return Key{}, fmt.Errorf("regkey: string key must not be empty")
	}
	if len(s) > MaxStringLen {
		return Key{}, fmt.Errorf("regkey: string key %q exceeds %d bytes", s, MaxStringLen)
	}
	return Key{tag: TagString, s: canonicalize(s)}, nil
}

// MustString is String, panicking on error. Used for static keys
// known at compile time, such as the reserved root-type key.
func MustString(s string) Key {
	k, err := String(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Tag reports which arm of the union k holds.
func (k Key) Tag() Tag { return k.tag }

// IsZeroUint reports whether k is the numeric zero sentinel used to
// request a freshly assigned id.
func (k Key) IsZeroUint() bool { return k.tag == TagUint && k.u == 0 }

// IsValid reports whether k is usable as a published node's key: it
// must be tagged, and if numeric must be non-zero (zero is only valid
// transiently, as an "assign me one" request).
func (k Key) IsValid() bool {
	switch k.tag {
	case TagUint:
		return k.u != 0
	case TagString:
		return len(k.s) > 0 && len(k.s) <= MaxStringLen
	default:
		return false
	}
}

// Uint64 returns the numeric value and true if k is a numeric key.
func (k Key) Uint64() (uint64, bool) {
	if k.tag != TagUint {
		return 0, false
	}
	return k.u, true
}

// Str returns the string value and true if k is a string key.
func (k Key) Str() (string, bool) {
	if k.tag != TagString {
		return "", false
	}
	return k.s, true
}

// Equal reports whether k and other have the same tag and value.
func (k Key) Equal(other Key) bool {
	if k.tag != other.tag {
		return false
	}
	switch k.tag {
	case TagUint:
		return k.u == other.u
	case TagString:
		return k.s == other.s
	default:
		return true
	}
}

var hashSeed = maphash.MakeSeed()

// Hash computes a 64-bit mix of k's canonical bytes; the tag
// participates so a numeric and string key with coincidentally equal
// bit patterns collide only by accident of the hash function, never
// structurally.
func (k Key) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	h.WriteByte(byte(k.tag))
	switch k.tag {
	case TagUint:
		var buf [8]byte
		for i := range buf {
			buf[i] = byte(k.u >> (8 * i))
		}
		h.Write(buf[:])
	case TagString:
		h.WriteString(k.s)
	}
	return h.Sum64()
}

func (k Key) String() string {
	switch k.tag {
	case TagUint:
		return fmt.Sprintf("#%d", k.u)
	case TagString:
		return fmt.Sprintf("%q", k.s)
	default:
		return "<invalid-key>"
	}
}

// canonicalizationCache deduplicates equal string keys the way
// anyunique.Set deduplicates arbitrary hashable values, so repeated
// identical string keys share one backing string instead of each Key
// copy allocating its own.
var canonicalizationCache sync.Map // string -> string

func canonicalize(s string) string {
	if v, ok := canonicalizationCache.Load(s); ok {
		return v.(string)
	}
	v, _ := canonicalizationCache.LoadOrStore(s, s)
	return v.(string)
}
