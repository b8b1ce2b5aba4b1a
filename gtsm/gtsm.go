// Package gtsm owns the process-wide singleton TSM and its layered
// topological teardown: repeatedly peel the set of nodes that are not
// currently anyone's type key (the current "leaves" of the type
// dependency graph) until the map is empty, since a node's reclamation
// must be able to read its type node, so any type must outlive all of
// its instances.
package gtsm

import (
	"sync"

	"github.com/rogpeppe/rcuregistry/reglog"
	"github.com/rogpeppe/rcuregistry/regerr"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/regtype"
	"github.com/rogpeppe/rcuregistry/rcusafe"
	"github.com/rogpeppe/rcuregistry/tsm"
)

var (
	initOnce sync.Once
	root     *tsm.TSM
)

// Init builds the global root TSM and its bootstrap root type, under
// safety checks temporarily disabled so the root type can reference
// itself as its own type. Safe to call more than once; later calls
// return the already-built root.
func Init(rs *rcusafe.Runtime) (*tsm.TSM, error) {
	var err error
	initOnce.Do(func() {
		rs.DisableSafetyChecks()
		defer rs.EnableSafetyChecks()

		rootType := regtype.BootstrapRoot()
		root, err = tsm.Create(nil, regkey.Uint(0), rootType.Base().TypeKey())
		if err != nil {
			return
		}
		if _, inserted := root.Map().AddUnique(rootType.Base().Key(), regnode.Node(rootType)); !inserted {
			err = regerr.NodeExists.Errf("root type key %s already present at bootstrap", rootType.Base().Key())
		}
	})
	return root, err
}

// Root returns the process-wide singleton TSM. It panics if Init has
// not yet succeeded, matching a use-before-init bug in any other
// process-scope global.
func Root() *tsm.TSM {
	if root == nil {
		panic("gtsm: Root() called before a successful Init()")
	}
	return root
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

func snapshot(t *tsm.TSM) (keys []regkey.Key, nodes []regnode.Node) {
	it := t.Map().First()
	for {
		k, v, ok := it.Get()
		if !ok {
			return keys, nodes
		}
		keys = append(keys, k)
		nodes = append(nodes, v)
		if !it.Next() {
			return keys, nodes
		}
	}
}

// Free tears down t in layered epochs. Each epoch, under a read
// section, collects the nodes not currently used as anyone's type key
// (the current leaves); if none are found but the map is non-empty it
// falls back to collecting every remaining node (the final pass that
// removes the Types themselves, once nothing depends on them anymore).
// Each collected node is deleted and its type's Free callback is
// queued on the callback goroutine. The loop ends when an epoch finds
// the map empty; Free then barriers to drain every queued callback,
// destroys the now-empty map, and releases t's own header allocation.
func Free(rs *rcusafe.Runtime, ticket *rcusafe.Ticket, t *tsm.TSM) error {
	epoch := 0
	for {
		rs.ReadLock(ticket)
		keys, nodes := snapshot(t)
		if len(keys) == 0 {
			rs.ReadUnlock(ticket)
			break
		}

		usedAsType := make(map[regkey.Key]bool, len(keys))
		for _, n := range nodes {
			usedAsType[n.Base().TypeKey()] = true
		}

		var leafKeys []regkey.Key
		var leafNodes []regnode.Node
		for i, k := range keys {
			if !usedAsType[k] {
				leafKeys = append(leafKeys, k)
				leafNodes = append(leafNodes, nodes[i])
			}
		}
		if len(leafKeys) == 0 {
			// No node is currently a leaf (everything is still
			// somebody's type); force-collect everything so the last
			// Types themselves can be retired.
			leafKeys, leafNodes = keys, nodes
		}
		rs.ReadUnlock(ticket)

		reglog.Debugf("gtsm: teardown epoch %d collecting %d node(s) from %s", epoch, len(leafKeys), t.Path())
		for i, key := range leafKeys {
			node := leafNodes[i]
			// Resolve the type before deleting node: the self-typed
			// root Type resolves itself by its own key, so deleting
			// first would make its own lookup fail on its final epoch.
			ty, terr := resolveType(t, node.Base().TypeKey())
			if err := t.Map().Del(key); err != nil {
				// Already removed by a concurrent teardown pass.
				continue
			}
			if terr != nil {
				reglog.Errorf("gtsm: %v", terr)
				continue
			}
			n := node
			owningType := ty
			rs.CallDeferred(func() { owningType.Free(n); n.Base().Release() })
		}
		epoch++
	}

	rs.Barrier(ticket)
	if err := t.Map().Destroy(); err != nil {
		return err
	}
	t.Base().Release()
	return nil
}
