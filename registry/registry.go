// Package registry is the Registry's collaborator-facing operations
// surface: Insert, Get, GetByPath, Update, Upsert, DeferFree, IsValid,
// Count, and iteration, each defined over any TSM. Every operation
// enters a read section on the caller's ticket if one is not already
// open, and every operation that returns a live pointer requires the
// caller to hold a read section for as long as it uses that pointer.
package registry

import (
	"github.com/rogpeppe/rcuregistry/internal/genchans"
	"github.com/rogpeppe/rcuregistry/rcusafe"
	"github.com/rogpeppe/rcuregistry/regerr"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/reglog"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/regtype"
	"github.com/rogpeppe/rcuregistry/tsm"
)

// withReadSection runs fn with a read section open on ticket, entering
// one first only if the caller does not already hold one, and leaving
// it exactly as it found it.
func withReadSection(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, fn func()) {
	owned := ticket.Inner().Depth() == 0
	if owned {
		rs.ReadLock(ticket)
		defer rs.ReadUnlock(ticket)
	}
	fn()
}

func resolveType(t *tsm.TSM, typeKey regkey.Key) (*regtype.Type, error) {
	v, ok := t.Map().Get(typeKey)
	if !ok {
		return nil, regerr.TypeUnresolved.Errf("type key %s does not resolve in %s", typeKey, t.Path())
	}
	ty, ok := v.(*regtype.Type)
	if !ok {
		return nil, regerr.TypeUnresolved.Errf("key %s in %s does not name a Type Node", typeKey, t.Path())
	}
	return ty, nil
}

// checkInsertable resolves n's type within t and confirms n's declared
// size matches that type's instance size, so a node can never be
// published with a type key that doesn't resolve in its own containing
// map, or with a size its type doesn't agree to.
func checkInsertable(t *tsm.TSM, n regnode.Node) error {
	ty, err := resolveType(t, n.Base().TypeKey())
	if err != nil {
		return err
	}
	if n.Base().SizeBytes() != ty.InstanceSizeBytes {
		return regerr.SizeMismatch.Errf("key %s: declared size %d does not match type %s's instance size %d", n.Base().Key(), n.Base().SizeBytes(), ty.Base().Key(), ty.InstanceSizeBytes)
	}
	return nil
}

// Insert publishes n into t under n's own key, failing with
// regerr.TypeUnresolved if n's type key does not resolve to a Type
// Node in t, regerr.SizeMismatch if n's declared size disagrees with
// that type's instance size, or regerr.NodeExists if the key is
// already taken.
func Insert(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, n regnode.Node) error {
	var err error
	withReadSection(rs, ticket, func() {
		if cerr := checkInsertable(t, n); cerr != nil {
			err = cerr
			return
		}
		if _, inserted := t.Map().AddUnique(n.Base().Key(), n); !inserted {
			err = regerr.NodeExists.Errf("key %s already present in %s", n.Base().Key(), t.Path())
		}
	})
	return err
}

// Get looks up key in t, returning regerr.NodeNotFound if absent. The
// returned node is only valid for as long as the caller's read section
// (the one it held on entry, or the one Get opened and closed on its
// behalf — in the latter case the pointer must not be used after Get
// returns).
func Get(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, key regkey.Key) (regnode.Node, error) {
	var out regnode.Node
	var err error
	withReadSection(rs, ticket, func() {
		v, ok := t.Map().Get(key)
		if !ok {
			err = regerr.NodeNotFound.Errf("key %s not found in %s", key, t.Path())
			return
		}
		out = v
	})
	return out, err
}

// GetByPath resolves path from root, requiring every intermediate node
// to be a TSM.
func GetByPath(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, root *tsm.TSM, path regkey.Path) (regnode.Node, error) {
	var out regnode.Node
	var err error
	withReadSection(rs, ticket, func() {
		out, err = tsm.GetByPath(root, path)
	})
	return out, err
}

// GetByPathAtDepth resolves path's prefix at depth (negative depths
// count back from the full path) and returns the node it addresses.
func GetByPathAtDepth(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, root *tsm.TSM, path regkey.Path, depth int) (regnode.Node, error) {
	var out regnode.Node
	var err error
	withReadSection(rs, ticket, func() {
		out, err = tsm.GetByPathAtDepth(root, path, depth)
	})
	return out, err
}

// Update replaces the node at newNode's key with newNode, failing if
// absent (regerr.NodeNotFound) or if the declared sizes disagree
// (regerr.SizeMismatch). The displaced node is queued for reclamation
// via its type's Free callback.
func Update(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, newNode regnode.Node) error {
	var err error
	withReadSection(rs, ticket, func() {
		if cerr := checkInsertable(t, newNode); cerr != nil {
			err = cerr
			return
		}
		it := t.Map().Lookup(newNode.Base().Key())
		_, old, ok := it.Get()
		if !ok {
			err = regerr.NodeNotFound.Errf("key %s not found in %s", newNode.Base().Key(), t.Path())
			return
		}
		if old.Base().SizeBytes() != newNode.Base().SizeBytes() {
			err = regerr.SizeMismatch.Errf("update of key %s: old size %d, new size %d", newNode.Base().Key(), old.Base().SizeBytes(), newNode.Base().SizeBytes())
			return
		}
		if rerr := t.Map().Replace(it, newNode); rerr != nil {
			err = rerr
			return
		}
		queueFree(rs, t, old)
	})
	return err
}

// Upsert inserts newNode if its key is absent, or replaces the present
// node with it via Update, so exactly one node with that key exists
// afterward.
func Upsert(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, newNode regnode.Node) error {
	var err error
	withReadSection(rs, ticket, func() {
		if _, _, ok := t.Map().Lookup(newNode.Base().Key()).Get(); ok {
			err = Update(rs, ticket, t, newNode)
			return
		}
		err = Insert(rs, ticket, t, newNode)
	})
	return err
}

// DeferFree removes key from t and queues its type's Free callback.
// Safe against concurrent double-free: a key already removed returns
// regerr.NodeIsRemoved.
func DeferFree(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, key regkey.Key) error {
	var err error
	withReadSection(rs, ticket, func() {
		it := t.Map().Lookup(key)
		_, node, ok := it.Get()
		if !ok {
			err = regerr.NodeIsRemoved.Errf("key %s not live in %s (already removed or never inserted)", key, t.Path())
			return
		}
		if derr := t.Map().Del(key); derr != nil {
			err = derr
			return
		}
		queueFree(rs, t, node)
	})
	return err
}

func queueFree(rs *rcusafe.Runtime, t *tsm.TSM, node regnode.Node) {
	ty, terr := resolveType(t, node.Base().TypeKey())
	if terr != nil {
		reglog.Errorf("registry: %v", terr)
		return
	}
	n := node
	owningType := ty
	rs.CallDeferred(func() { owningType.Free(n); n.Base().Release() })
}

// IsValid runs the composite validity check: resolve n's type in t,
// then run its payload-specific Validate against t as the owning TSM.
func IsValid(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, n regnode.Node) (bool, error) {
	var ok bool
	var err error
	withReadSection(rs, ticket, func() {
		ty, terr := resolveType(t, n.Base().TypeKey())
		if terr != nil {
			err = terr
			return
		}
		ok = ty.IsValid(t, n)
	})
	return ok, err
}

// Count returns t's approximate-before/exact/approximate-after node
// counts, requiring a read section the way the underlying map's Count
// does.
func Count(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM) (approxBefore, exact, approxAfter int64) {
	withReadSection(rs, ticket, func() {
		approxBefore, exact, approxAfter = t.Map().Count()
	})
	return approxBefore, exact, approxAfter
}

// Iterate calls visit for every live node in t, in unordered traversal
// order, stopping early if visit returns false. It enters a read
// section for the whole walk, not per element.
func Iterate(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, visit func(regkey.Key, regnode.Node) bool) {
	withReadSection(rs, ticket, func() {
		it := t.Map().First()
		for {
			k, v, ok := it.Get()
			if !ok {
				return
			}
			if !visit(k, v) {
				return
			}
			if !it.Next() {
				return
			}
		}
	})
}

// Entry is one (path, key, node) triple produced by IterateAll.
type Entry struct {
	Path regkey.Path
	Key  regkey.Key
	Node regnode.Node
}

// collectMaps walks t and every descendant TSM reachable from it,
// appending each to maps. It does not recurse through non-TSM nodes.
func collectMaps(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM, maps *[]*tsm.TSM) {
	*maps = append(*maps, t)
	Iterate(rs, ticket, t, func(_ regkey.Key, n regnode.Node) bool {
		if sub, ok := n.(*tsm.TSM); ok {
			collectMaps(rs, ticket, sub, maps)
		}
		return true
	})
}

// IterateAll walks root and every currently-live sub-TSM reachable
// from it, fanning each map's entries through internal/genchans.Merge
// into one combined, unordered stream — a diagnostic dump spanning the
// whole tree rather than one map at a time.
func IterateAll(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, root *tsm.TSM, visit func(Entry) bool) {
	var maps []*tsm.TSM
	withReadSection(rs, ticket, func() {
		collectMaps(rs, ticket, root, &maps)
	})

	chans := make([]<-chan Entry, 0, len(maps))
	for _, m := range maps {
		m := m
		c := make(chan Entry)
		chans = append(chans, c)
		go func() {
			defer close(c)
			walkerTicket := rs.RegisterThread()
			defer rs.UnregisterThread(walkerTicket)
			Iterate(rs, walkerTicket, m, func(k regkey.Key, n regnode.Node) bool {
				c <- Entry{Path: m.Path(), Key: k, Node: n}
				return true
			})
		}()
	}

	for e := range genchans.Merge(chans, nil) {
		if !visit(e) {
			return
		}
	}
}
