// Package regtype implements the Type Node: a node whose payload is a
// vtable of callbacks (free, validate, print) dispatched by the node's
// type key rather than by Go's static type, so heterogeneous node
// kinds can share one map.
package regtype

import (
	"github.com/rogpeppe/rcuregistry/regerr"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
)

// FreeFunc releases a node's type-specific resources. It runs on the
// RCU callback thread after a grace period; the caller that queued it
// releases the node's header allocation (Base.Release) once it returns.
type FreeFunc func(n regnode.Node)

// ValidateFunc checks both the generic header and any payload-specific
// invariants for n, which is a member of owner.
type ValidateFunc func(owner regnode.Node, n regnode.Node) bool

// PrintFunc renders n for diagnostics.
type PrintFunc func(n regnode.Node) string

// Type is a node describing the shape and behavior of every node whose
// TypeKey names it.
type Type struct {
	regnode.Base

	Free              FreeFunc
	Validate          ValidateFunc
	Print             PrintFunc
	InstanceSizeBytes uint64
}

// New creates a Type Node. key is the key used by instances to
// reference this type; selfTypeKey is the key of the Type Node that
// describes Type Nodes themselves (ordinarily the bootstrap root type).
func New(key regkey.Key, selfTypeKey regkey.Key, instanceSizeBytes uint64, free FreeFunc, validate ValidateFunc, print PrintFunc) (*Type, error) {
	if free == nil || validate == nil {
		return nil, regerr.KeyInvalid.Errf("type %s must supply Free and Validate callbacks", key)
	}
	if key.Equal(selfTypeKey) {
		return nil, regerr.TypeMismatch.Errf("type %s cannot name itself as its own type", key)
	}
	base, err := regnode.NewBase(key, selfTypeKey, regnode.HeaderSizeBytes)
	if err != nil {
		return nil, err
	}
	return &Type{
		Base:              base,
		Free:              free,
		Validate:          validate,
		Print:             print,
		InstanceSizeBytes: instanceSizeBytes,
	}, nil
}

// rootTypeKey is the reserved key every bootstrap root type uses as
// both its own key and its own type key.
var rootTypeKey = regkey.MustString("$root_type")

// RootTypeKey returns the reserved key of the self-describing
// bootstrap root type.
func RootTypeKey() regkey.Key { return rootTypeKey }

// BootstrapRoot builds the self-referential root Type: its own key and
// its type key are both RootTypeKey(), which no ordinary New() call is
// allowed to produce (regnode.NewBase would otherwise happily accept
// it — the self-reference is legal only here, once, at process start).
func BootstrapRoot() *Type {
	base, err := regnode.NewBase(rootTypeKey, rootTypeKey, regnode.HeaderSizeBytes)
	if err != nil {
		// Only reachable if HeaderSizeBytes or the reserved key
		// constant itself is broken; both are compile-time constants.
		panic(err)
	}
	t := &Type{
		Base:              base,
		InstanceSizeBytes: regnode.HeaderSizeBytes,
	}
	t.Free = func(n regnode.Node) {}
	t.Validate = func(owner, n regnode.Node) bool {
		rt, ok := n.(*Type)
		return ok && rt.Base().TypeKey().Equal(rootTypeKey)
	}
	t.Print = func(n regnode.Node) string { return "<root type>" }
	return t
}

// IsValid runs the composite validity check: the generic header
// (caller's responsibility, already enforced at creation) followed by
// this Type's own payload-specific Validate.
func (t *Type) IsValid(owner regnode.Node, n regnode.Node) bool {
	if t.Validate == nil {
		return false
	}
	return t.Validate(owner, n)
}
