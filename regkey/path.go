package regkey

import "fmt"

// Path is an ordered sequence of keys describing a route from the
// global root to a node. The empty Path denotes the root itself.
//
// A path is a thin growable array of keys with negative-index edit
// operations.
type Path struct {
	keys []Key
}

// NewPath builds a Path from the given keys, left to right from the
// root. The slice is copied; later mutation of the caller's slice does
// not affect the Path.
func NewPath(keys ...Key) Path {
	cp := make([]Key, len(keys))
	copy(cp, keys)
	return Path{keys: cp}
}

// Append returns a new Path with key appended to the end, without
// modifying p.
func (p Path) Append(key Key) Path {
	cp := make([]Key, len(p.keys)+1)
	copy(cp, p.keys)
	cp[len(p.keys)] = key
	return Path{keys: cp}
}

// Copy returns a deep (independent) copy of p.
func (p Path) Copy() Path {
	return NewPath(p.keys...)
}

// Len reports the number of keys in p. A zero-length path addresses
// the root.
func (p Path) Len() int {
	return len(p.keys)
}

// IsValid reports whether every key in p is individually valid.
func (p Path) IsValid() bool {
	for _, k := range p.keys {
		if !k.IsValid() {
			return false
		}
	}
	return true
}

// resolveIndex converts a possibly-negative index (counted from the
// end, -1 being the last element) into an absolute index into a slice
// of length n. allowEnd permits an index equal to n (used by Insert,
// which can append).
func resolveIndex(idx, n int, allowEnd bool) (int, error) {
	abs := idx
	if idx < 0 {
		abs = n + idx
	}
	hi := n
	if !allowEnd {
		hi = n - 1
	}
	if abs < 0 || abs > hi {
		return 0, fmt.Errorf("regkey: path index %d out of range for length %d", idx, n)
	}
	return abs, nil
}

// KeyAt returns the key at idx, where a negative idx counts from the
// end (-1 is the last key).
func (p Path) KeyAt(idx int) (Key, error) {
	abs, err := resolveIndex(idx, len(p.keys), false)
	if err != nil {
		return Key{}, err
	}
	return p.keys[abs], nil
}

// InsertKey returns a new Path with key inserted at idx (negative
// counts from the end; idx == Len() appends).
func (p Path) InsertKey(key Key, idx int) (Path, error) {
	abs, err := resolveIndex(idx, len(p.keys), true)
	if err != nil {
		return Path{}, err
	}
	out := make([]Key, 0, len(p.keys)+1)
	out = append(out, p.keys[:abs]...)
	out = append(out, key)
	out = append(out, p.keys[abs:]...)
	return Path{keys: out}, nil
}

// RemoveKey returns a new Path with the key at idx removed (negative
// counts from the end).
func (p Path) RemoveKey(idx int) (Path, error) {
	abs, err := resolveIndex(idx, len(p.keys), false)
	if err != nil {
		return Path{}, err
	}
	out := make([]Key, 0, len(p.keys)-1)
	out = append(out, p.keys[:abs]...)
	out = append(out, p.keys[abs+1:]...)
	return Path{keys: out}, nil
}

// AtDepth resolves a possibly-negative depth the way
// node_get_by_path_at_depth does: depth >= 0 counts keys from the
// root (0 == the root itself, 1 == the first key's target, ...);
// depth < 0 counts back from the full path's end, so -1 is the full
// path (the target itself) and -2 is its parent. It returns the
// sub-path whose traversal reaches the addressed node.
func (p Path) AtDepth(depth int) (Path, error) {
	n := len(p.keys)
	var end int
	if depth >= 0 {
		end = depth
	} else {
		end = n + depth + 1
	}
	if end < 0 || end > n {
		return Path{}, fmt.Errorf("regkey: path depth %d out of range for length %d", depth, n)
	}
	return Path{keys: append([]Key(nil), p.keys[:end]...)}, nil
}

// Keys returns a copy of the underlying key slice.
func (p Path) Keys() []Key {
	return append([]Key(nil), p.keys...)
}

func (p Path) String() string {
	s := "/"
	for i, k := range p.keys {
		if i > 0 {
			s += "/"
		}
		s += k.String()
	}
	return s
}
