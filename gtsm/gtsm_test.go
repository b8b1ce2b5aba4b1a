package gtsm

import (
	"sync"
	"testing"

	"github.com/frankban/quicktest"

	"github.com/rogpeppe/rcuregistry/rcu"
	"github.com/rogpeppe/rcuregistry/rcusafe"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/regtype"
	"github.com/rogpeppe/rcuregistry/tsm"
)

func newHarness() (*rcusafe.Runtime, *rcusafe.Ticket) {
	rs := rcusafe.NewRuntime(rcu.New())
	ticket := rs.RegisterThread()
	return rs, ticket
}

func indexOf(order []string, name string) int {
	for i, s := range order {
		if s == name {
			return i
		}
	}
	return -1
}

// TestFreeTearsDownInDependencyOrder builds Type T1, Type T2, and an
// instance I of T1 under a fresh root, then checks that Free respects
// the dependency order: a type cannot be retired before every node
// naming it as a type key is gone.
func TestFreeTearsDownInDependencyOrder(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket := newHarness()

	var mu sync.Mutex
	var order []string
	record := func(n regnode.Node) {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := n.Base().Key().Str(); ok {
			order = append(order, s)
		} else {
			order = append(order, n.Base().Key().String())
		}
	}

	rootType := regtype.BootstrapRoot()
	root, err := tsm.Create(nil, regkey.Uint(0), rootType.Base().TypeKey())
	c.Assert(err, quicktest.IsNil)
	root.Map().Add(rootType.Base().Key(), regnode.Node(rootType))
	// rootType.Free runs for any node whose type key is rootType's own
	// key: every Type Node, plus rootType itself at the very end.
	rootType.Free = record

	t1Key := regkey.MustString("T1")
	t1, err := regtype.New(t1Key, rootType.Base().Key(), regnode.HeaderSizeBytes,
		record,
		func(owner, n regnode.Node) bool { return true },
		nil,
	)
	c.Assert(err, quicktest.IsNil)
	root.Map().Add(t1.Base().Key(), regnode.Node(t1))

	t2Key := regkey.MustString("T2")
	t2, err := regtype.New(t2Key, rootType.Base().Key(), regnode.HeaderSizeBytes,
		record,
		func(owner, n regnode.Node) bool { return true },
		nil,
	)
	c.Assert(err, quicktest.IsNil)
	root.Map().Add(t2.Base().Key(), regnode.Node(t2))

	instBase, err := regnode.NewBase(regkey.MustString("I"), t1Key, regnode.HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	root.Map().Add(instBase.Key(), &instBase)

	err = Free(rs, ticket, root)
	c.Assert(err, quicktest.IsNil)

	_, exact, _ := root.Map().Count()
	c.Assert(exact, quicktest.Equals, int64(0))

	c.Assert(len(order), quicktest.Equals, 4)
	// I must be gone before T1 (its type) is retired.
	c.Assert(indexOf(order, "I") < indexOf(order, "T1"), quicktest.IsTrue)
	// Every Type Node is gone before the self-typed root type is.
	c.Assert(indexOf(order, "T1") < indexOf(order, "$root_type"), quicktest.IsTrue)
	c.Assert(indexOf(order, "T2") < indexOf(order, "$root_type"), quicktest.IsTrue)
}

func TestFreeOnEmptyRootIsANoop(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket := newHarness()
	root, err := tsm.Create(nil, regkey.Uint(0), regtype.RootTypeKey())
	c.Assert(err, quicktest.IsNil)

	err = Free(rs, ticket, root)
	c.Assert(err, quicktest.IsNil)
}
