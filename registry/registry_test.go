package registry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/frankban/quicktest"
	"github.com/stretchr/testify/require"

	"github.com/rogpeppe/rcuregistry/rcu"
	"github.com/rogpeppe/rcuregistry/rcusafe"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/regtype"
	"github.com/rogpeppe/rcuregistry/tsm"
)

// intInstance is a minimal user node type carrying an integer payload,
// used the way a real collaborator type would carry a device handle or
// shader program id.
type intInstance struct {
	regnode.Base
	Value int
}

func newTestRoot(t *testing.T) (*rcusafe.Runtime, *rcusafe.Ticket, *tsm.TSM, *regtype.Type) {
	t.Helper()
	rs := rcusafe.NewRuntime(rcu.New())
	ticket := rs.RegisterThread()

	rs.DisableSafetyChecks()
	rootType := regtype.BootstrapRoot()
	root, err := tsm.Create(nil, regkey.Uint(0), rootType.Base().TypeKey())
	require.NoError(t, err)
	root.Map().Add(rootType.Base().Key(), rootType)
	rs.EnableSafetyChecks()

	widgetType, err := regtype.New(
		regkey.MustString("T"),
		rootType.Base().Key(),
		regnode.HeaderSizeBytes+8,
		func(regnode.Node) {},
		func(owner, n regnode.Node) bool { return true },
		nil,
	)
	require.NoError(t, err)
	require.NoError(t, Insert(rs, ticket, root, widgetType))

	return rs, ticket, root, widgetType
}

// TestBasicCRUD reproduces the init -> insert -> get -> update -> get
// -> defer-free -> barrier -> get scenario.
func TestBasicCRUD(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	base, err := regnode.NewBase(regkey.Uint(1001), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	node := &intInstance{Base: base, Value: 42}
	c.Assert(Insert(rs, ticket, root, node), quicktest.IsNil)

	got, err := Get(rs, ticket, root, regkey.Uint(1001))
	c.Assert(err, quicktest.IsNil)
	c.Assert(got.(*intInstance).Value, quicktest.Equals, 42)

	updatedBase, err := regnode.NewBase(regkey.Uint(1001), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	updated := &intInstance{Base: updatedBase, Value: 84}
	c.Assert(Update(rs, ticket, root, updated), quicktest.IsNil)

	got, err = Get(rs, ticket, root, regkey.Uint(1001))
	c.Assert(err, quicktest.IsNil)
	c.Assert(got.(*intInstance).Value, quicktest.Equals, 84)

	c.Assert(DeferFree(rs, ticket, root, regkey.Uint(1001)), quicktest.IsNil)
	rs.Barrier(ticket)

	_, err = Get(rs, ticket, root, regkey.Uint(1001))
	c.Assert(err, quicktest.IsNotNil)
}

// TestUniquenessUnderConcurrentAddUnique reproduces scenario 2: two
// concurrent Inserts for the same key, exactly one succeeds.
func TestUniquenessUnderConcurrentAddUnique(t *testing.T) {
	c := quicktest.New(t)
	rs, _, root, widgetType := newTestRoot(t)

	var successes atomic.Int64
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			tk := rs.RegisterThread()
			base, err := regnode.NewBase(regkey.Uint(7), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
			if err != nil {
				return
			}
			node := &intInstance{Base: base, Value: 1}
			if Insert(rs, tk, root, node) == nil {
				successes.Add(1)
			}
		}()
	}
	<-done
	<-done

	c.Assert(successes.Load(), quicktest.Equals, int64(1))
	_, exact, _ := Count(rs, rs.RegisterThread(), root)
	// root holds the bootstrap root type, the widget type, and exactly
	// one instance of key 7.
	c.Assert(exact, quicktest.Equals, int64(3))
}

// TestRecursivePath reproduces scenario 3: nested sub-TSMs addressed by
// path, including a negative-depth lookup for the parent.
func TestRecursivePath(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	rootTypeKey := regkey.MustString("$root_type")
	rootType, ok := root.Map().Get(rootTypeKey)
	c.Assert(ok, quicktest.IsTrue)

	mapType, err := regtype.New(
		regkey.MustString("M"),
		rootTypeKey,
		regnode.HeaderSizeBytes,
		func(regnode.Node) {},
		func(owner, n regnode.Node) bool { _, ok := n.(*tsm.TSM); return ok },
		nil,
	)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, mapType), quicktest.IsNil)

	sub, err := tsm.Create(root, regkey.MustString("sub"), mapType.Base().Key())
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, sub), quicktest.IsNil)

	// sub hosts inner, a TSM of type M, so sub needs its own local copy
	// of M and of the root type M depends on, the root type bootstrapped
	// the same way the process-wide root TSM bootstraps itself.
	rs.DisableSafetyChecks()
	sub.Map().Add(rootTypeKey, rootType)
	rs.EnableSafetyChecks()
	c.Assert(Insert(rs, ticket, sub, mapType), quicktest.IsNil)

	inner, err := tsm.Create(sub, regkey.MustString("inner"), mapType.Base().Key())
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, sub, inner), quicktest.IsNil)

	// inner hosts leaf, an instance of widgetType ("T"), so inner needs both the
	// root type (widgetType's own type key) and widgetType itself
	// resident locally.
	rs.DisableSafetyChecks()
	inner.Map().Add(rootTypeKey, rootType)
	rs.EnableSafetyChecks()
	c.Assert(Insert(rs, ticket, inner, widgetType), quicktest.IsNil)

	leafBase, err := regnode.NewBase(regkey.MustString("leaf"), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	leaf := &intInstance{Base: leafBase, Value: 5}
	c.Assert(Insert(rs, ticket, inner, leaf), quicktest.IsNil)

	path := regkey.NewPath(regkey.MustString("sub"), regkey.MustString("inner"), regkey.MustString("leaf"))
	got, err := GetByPath(rs, ticket, root, path)
	c.Assert(err, quicktest.IsNil)
	c.Assert(got.(*intInstance).Value, quicktest.Equals, 5)

	parent, err := GetByPathAtDepth(rs, ticket, root, path, -2)
	c.Assert(err, quicktest.IsNil)
	c.Assert(parent.Base().Key().Equal(regkey.MustString("inner")), quicktest.IsTrue)
}

// TestInsertRejectsUnresolvableType checks that a node whose type key
// only resolves in an ancestor TSM, not the one it is published into,
// is rejected rather than silently admitted.
func TestInsertRejectsUnresolvableType(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	mapType, err := regtype.New(
		regkey.MustString("M"),
		regtype.RootTypeKey(),
		regnode.HeaderSizeBytes,
		func(regnode.Node) {},
		func(owner, n regnode.Node) bool { _, ok := n.(*tsm.TSM); return ok },
		nil,
	)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, mapType), quicktest.IsNil)

	sub, err := tsm.Create(root, regkey.MustString("sub"), mapType.Base().Key())
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, sub), quicktest.IsNil)

	// widgetType lives only in root, not sub, so a node naming it as its
	// type key must fail to publish into sub.
	base, err := regnode.NewBase(regkey.MustString("leaf"), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	err = Insert(rs, ticket, sub, &intInstance{Base: base, Value: 1})
	c.Assert(err, quicktest.ErrorMatches, ".*TYPE_UNRESOLVED.*")
}

// TestInsertRejectsSizeMismatch checks that a node whose declared size
// disagrees with its type's instance size is rejected even though its
// type key resolves fine.
func TestInsertRejectsSizeMismatch(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	base, err := regnode.NewBase(regkey.Uint(3), widgetType.Base().Key(), regnode.HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	err = Insert(rs, ticket, root, &intInstance{Base: base, Value: 1})
	c.Assert(err, quicktest.ErrorMatches, ".*SIZE_MISMATCH.*")
}

// TestRCULifetimeAcrossConcurrentFree reproduces scenario 5: a reader
// holding a node across a concurrent DeferFree must still observe the
// published value until it leaves its section.
func TestRCULifetimeAcrossConcurrentFree(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	base, err := regnode.NewBase(regkey.Uint(9), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	node := &intInstance{Base: base, Value: 99}
	c.Assert(Insert(rs, ticket, root, node), quicktest.IsNil)

	readerTicket := rs.RegisterThread()
	rs.ReadLock(readerTicket)
	got, err := Get(rs, readerTicket, root, regkey.Uint(9))
	c.Assert(err, quicktest.IsNil)

	freerDone := make(chan struct{})
	go func() {
		defer close(freerDone)
		freerTicket := rs.RegisterThread()
		_ = DeferFree(rs, freerTicket, root, regkey.Uint(9))
	}()
	select {
	case <-freerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("defer-free did not complete")
	}

	c.Assert(got.(*intInstance).Value, quicktest.Equals, 99)
	rs.ReadUnlock(readerTicket)
	rs.Barrier(readerTicket)
}

// TestUpsertSemantics reproduces scenario 6: upsert inserts when
// absent and replaces when present, with exactly one live instance at
// any time.
func TestUpsertSemantics(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	base1, err := regnode.NewBase(regkey.Uint(5), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Upsert(rs, ticket, root, &intInstance{Base: base1, Value: 1}), quicktest.IsNil)

	base2, err := regnode.NewBase(regkey.Uint(5), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Upsert(rs, ticket, root, &intInstance{Base: base2, Value: 2}), quicktest.IsNil)

	got, err := Get(rs, ticket, root, regkey.Uint(5))
	c.Assert(err, quicktest.IsNil)
	c.Assert(got.(*intInstance).Value, quicktest.Equals, 2)
}

// TestIterateAllSpansNestedMaps checks that IterateAll's fan-in walk
// reaches entries in both the root map and a sub-TSM nested under it.
func TestIterateAllSpansNestedMaps(t *testing.T) {
	c := quicktest.New(t)
	rs, ticket, root, widgetType := newTestRoot(t)

	rootBase, err := regnode.NewBase(regkey.Uint(11), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, &intInstance{Base: rootBase, Value: 1}), quicktest.IsNil)

	mapType, err := regtype.New(
		regkey.MustString("M"),
		regtype.RootTypeKey(),
		regnode.HeaderSizeBytes,
		func(regnode.Node) {},
		func(owner, n regnode.Node) bool { _, ok := n.(*tsm.TSM); return ok },
		nil,
	)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, mapType), quicktest.IsNil)

	sub, err := tsm.Create(root, regkey.MustString("sub"), mapType.Base().Key())
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, root, sub), quicktest.IsNil)

	// sub hosts a widget instance, so it needs its own local copies of
	// the root type (widgetType's own type key) and widgetType itself,
	// bootstrapped the same way gtsm.Init bootstraps the process root.
	rootVal, ok := root.Map().Get(regtype.RootTypeKey())
	c.Assert(ok, quicktest.IsTrue)
	rs.DisableSafetyChecks()
	sub.Map().Add(regtype.RootTypeKey(), rootVal)
	rs.EnableSafetyChecks()
	c.Assert(Insert(rs, ticket, sub, widgetType), quicktest.IsNil)

	subBase, err := regnode.NewBase(regkey.Uint(22), widgetType.Base().Key(), regnode.HeaderSizeBytes+8)
	c.Assert(err, quicktest.IsNil)
	c.Assert(Insert(rs, ticket, sub, &intInstance{Base: subBase, Value: 2}), quicktest.IsNil)

	seen := make(map[string]bool)
	IterateAll(rs, ticket, root, func(e Entry) bool {
		seen[e.Path.String()+"/"+e.Key.String()] = true
		return true
	})

	c.Assert(seen[root.Path().String()+"/"+regkey.Uint(11).String()], quicktest.IsTrue)
	c.Assert(seen[sub.Path().String()+"/"+regkey.Uint(22).String()], quicktest.IsTrue)
}
