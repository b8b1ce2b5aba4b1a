package regnode

import (
	"sync/atomic"
	"testing"

	"github.com/frankban/quicktest"

	"github.com/rogpeppe/rcuregistry/regalloc"
	"github.com/rogpeppe/rcuregistry/regkey"
)

func TestNewBaseSubstitutesFreshIDForZeroKey(t *testing.T) {
	c := quicktest.New(t)
	typeKey := regkey.MustString("widget")

	b, err := NewBase(regkey.Uint(0), typeKey, HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	c.Assert(b.Key().IsValid(), quicktest.IsTrue)
	c.Assert(b.Key().IsZeroUint(), quicktest.IsFalse)
	c.Assert(b.TypeKey().Equal(typeKey), quicktest.IsTrue)
}

func TestNewBaseRejectsUndersizedInstance(t *testing.T) {
	c := quicktest.New(t)
	_, err := NewBase(regkey.Uint(1), regkey.MustString("widget"), HeaderSizeBytes-1)
	c.Assert(err, quicktest.IsNotNil)
}

func TestNewBaseRejectsInvalidTypeKey(t *testing.T) {
	c := quicktest.New(t)
	_, err := NewBase(regkey.Uint(1), regkey.Key{}, HeaderSizeBytes)
	c.Assert(err, quicktest.IsNotNil)
}

func TestNewBaseRejectsInvalidKey(t *testing.T) {
	c := quicktest.New(t)
	bad := regkey.Key{}
	_, err := NewBase(bad, regkey.MustString("widget"), HeaderSizeBytes)
	c.Assert(err, quicktest.IsNotNil)
}

func TestBaseSatisfiesNode(t *testing.T) {
	c := quicktest.New(t)
	b, err := NewBase(regkey.Uint(1), regkey.MustString("widget"), HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	var n Node = &b
	c.Assert(n.Base(), quicktest.Equals, &b)
}

func TestNewBaseAndReleaseRouteThroughTheInstalledAllocSink(t *testing.T) {
	c := quicktest.New(t)
	var tick atomic.Int64
	tr := regalloc.NewTracking(func() int64 { return tick.Add(1) })
	regalloc.SetSink(tr)
	defer regalloc.SetSink(nil)

	b, err := NewBase(regkey.Uint(1), regkey.MustString("widget"), HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	c.Assert(tr.LiveCount(), quicktest.Equals, 1)

	b.Release()
	c.Assert(tr.LiveCount(), quicktest.Equals, 0)
}
