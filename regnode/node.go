// Package regnode defines the Base header every Registry node type
// embeds: its key, the key of the Type Node describing it, and its
// declared instance size. Every other node kind (Type, TSM, and any
// user-defined payload) embeds Base and is reachable through the Node
// interface.
package regnode

import (
	"fmt"

	"github.com/rogpeppe/rcuregistry/regalloc"
	"github.com/rogpeppe/rcuregistry/regerr"
	"github.com/rogpeppe/rcuregistry/regkey"
)

// HeaderSizeBytes is the floor a caller's declared instance size must
// clear: it stands in for the header's own footprint, the way the
// original allocator validated size_bytes against sizeof(base_node_t).
const HeaderSizeBytes = 24

// Base is the header embedded by every node published into a TSM.
type Base struct {
	key       regkey.Key
	typeKey   regkey.Key
	sizeBytes uint64
	handle    regalloc.Handle
}

// NewBase builds a Base header. If key is the numeric-zero sentinel, a
// fresh id is substituted. typeKey must be a valid key; sizeBytes must
// be at least HeaderSizeBytes. The node's backing storage is obtained
// from the installed regalloc.Sink, so every node's lifetime is
// trackable from allocation through Release.
func NewBase(key, typeKey regkey.Key, sizeBytes uint64) (Base, error) {
	if !typeKey.IsValid() {
		return Base{}, regerr.KeyInvalid.Errf("type key %s is not valid", typeKey)
	}
	if sizeBytes < HeaderSizeBytes {
		return Base{}, regerr.SizeMismatch.Errf("instance size %d is smaller than the header (%d)", sizeBytes, HeaderSizeBytes)
	}
	if key.IsZeroUint() {
		key = regkey.NextID()
	} else if !key.IsValid() {
		return Base{}, regerr.KeyInvalid.Errf("key %s is not valid", key)
	}
	handle, _ := regalloc.Alloc(sizeBytes)
	return Base{key: key, typeKey: typeKey, sizeBytes: sizeBytes, handle: handle}, nil
}

// Release retires the node's backing allocation. Called exactly once,
// when the node's type Free callback runs after the RCU grace period
// that made it unreachable to readers.
func (b *Base) Release() { regalloc.Free(b.handle) }

// Key returns the node's own key within its owning TSM.
func (b *Base) Key() regkey.Key { return b.key }

// TypeKey returns the key of the Type Node describing this node's
// shape and behavior.
func (b *Base) TypeKey() regkey.Key { return b.typeKey }

// SizeBytes returns the declared instance size recorded at creation.
func (b *Base) SizeBytes() uint64 { return b.sizeBytes }

func (b *Base) String() string {
	return fmt.Sprintf("Base{key=%s, type=%s, size=%d}", b.key, b.typeKey, b.sizeBytes)
}

// Base returns b itself, so that any type embedding Base by value
// satisfies Node without writing its own accessor.
func (b *Base) Base() *Base { return b }

// Node is satisfied by any published node: Type, TSM, and user payload
// types all embed Base and expose it through this method.
type Node interface {
	Base() *Base
}
