// Package tsm implements the recursive map node: a node whose payload
// is itself a lock-free map, plus the path that addresses it from the
// global root. A TSM's children may themselves be TSMs, so containment
// forms a tree of maps rooted at the single GTSM singleton.
package tsm

import (
	"github.com/rogpeppe/rcuregistry/lfmap"
	"github.com/rogpeppe/rcuregistry/regerr"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
)

const initialBuckets = 16

// TSM is a Base Node whose payload is a map of regkey.Key to
// regnode.Node, plus its own path from the root.
type TSM struct {
	regnode.Base

	path  regkey.Path
	inner *lfmap.Map[regkey.Key, regnode.Node]
}

func keyEqual(a, b regkey.Key) bool { return a.Equal(b) }
func keyHash(k regkey.Key) uint64   { return k.Hash() }

// Create allocates a new TSM under parent (nil for the root TSM),
// recording parent.Path()+key as its own path. It does not insert
// itself into parent; the caller publishes it explicitly via the
// registry package's Insert.
func Create(parent *TSM, key, typeKey regkey.Key) (*TSM, error) {
	base, err := regnode.NewBase(key, typeKey, regnode.HeaderSizeBytes)
	if err != nil {
		return nil, err
	}
	var path regkey.Path
	if parent != nil {
		path = parent.path.Append(base.Key())
	} else {
		path = regkey.NewPath()
	}
	return &TSM{
		Base:  base,
		path:  path,
		inner: lfmap.New[regkey.Key, regnode.Node](keyEqual, keyHash, initialBuckets),
	}, nil
}

// Path returns t's path from the root. The empty path addresses the
// root TSM itself.
func (t *TSM) Path() regkey.Path { return t.path }

// Map exposes the inner lock-free map for the registry package's
// operations surface.
func (t *TSM) Map() *lfmap.Map[regkey.Key, regnode.Node] { return t.inner }

// GetByPath walks each key in path starting at root, requiring every
// intermediate node to itself be a TSM.
func GetByPath(root *TSM, path regkey.Path) (regnode.Node, error) {
	cur := root
	keys := path.Keys()
	for i, k := range keys {
		v, ok := cur.inner.Get(k)
		if !ok {
			return nil, regerr.NodeNotFound.Errf("no node at key %s (path element %d)", k, i)
		}
		if i == len(keys)-1 {
			return v, nil
		}
		next, ok := v.(*TSM)
		if !ok {
			return nil, regerr.NotAMap.Errf("path element %d (%s) is not a map", i, k)
		}
		cur = next
	}
	return cur, nil
}

// GetByPathAtDepth resolves a possibly-negative depth the way
// AtDepth does (0 is the root, -1 is the full path, -2 is the parent
// of the full path's target, and so on) and returns the node reached
// by that prefix.
func GetByPathAtDepth(root *TSM, path regkey.Path, depth int) (regnode.Node, error) {
	prefix, err := path.AtDepth(depth)
	if err != nil {
		return nil, regerr.PathMalformed.Errf("%v", err)
	}
	if prefix.Len() == 0 {
		return root, nil
	}
	return GetByPath(root, prefix)
}
