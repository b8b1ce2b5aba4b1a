package tsm

import (
	"testing"

	"github.com/frankban/quicktest"

	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
)

func TestCreateRecordsPathFromParent(t *testing.T) {
	c := quicktest.New(t)
	root, err := Create(nil, regkey.Uint(0), regkey.MustString("tsm_type"))
	c.Assert(err, quicktest.IsNil)
	c.Assert(root.Path().Len(), quicktest.Equals, 0)

	sub, err := Create(root, regkey.MustString("sub"), regkey.MustString("tsm_type"))
	c.Assert(err, quicktest.IsNil)
	c.Assert(sub.Path().Len(), quicktest.Equals, 1)
	last, _ := sub.Path().KeyAt(-1)
	c.Assert(last.Equal(regkey.MustString("sub")), quicktest.IsTrue)
}

func TestGetByPathWalksIntermediateTSMs(t *testing.T) {
	c := quicktest.New(t)
	root, err := Create(nil, regkey.Uint(0), regkey.MustString("tsm_type"))
	c.Assert(err, quicktest.IsNil)

	sub, err := Create(root, regkey.MustString("sub"), regkey.MustString("tsm_type"))
	c.Assert(err, quicktest.IsNil)
	root.Map().Add(sub.Base().Key(), sub)

	inner, err := Create(sub, regkey.MustString("inner"), regkey.MustString("tsm_type"))
	c.Assert(err, quicktest.IsNil)
	sub.Map().Add(inner.Base().Key(), inner)

	leafBase, err := regnode.NewBase(regkey.MustString("leaf"), regkey.MustString("widget"), regnode.HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	inner.Map().Add(leafBase.Key(), &leafBase)

	path := regkey.NewPath(regkey.MustString("sub"), regkey.MustString("inner"), regkey.MustString("leaf"))
	got, err := GetByPath(root, path)
	c.Assert(err, quicktest.IsNil)
	c.Assert(got.Base().Key().Equal(regkey.MustString("leaf")), quicktest.IsTrue)

	parent, err := GetByPathAtDepth(root, path, -2)
	c.Assert(err, quicktest.IsNil)
	parentTSM, ok := parent.(*TSM)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(parentTSM.Base().Key().Equal(regkey.MustString("inner")), quicktest.IsTrue)
}

func TestGetByPathRejectsNonMapIntermediate(t *testing.T) {
	c := quicktest.New(t)
	root, err := Create(nil, regkey.Uint(0), regkey.MustString("tsm_type"))
	c.Assert(err, quicktest.IsNil)

	leafBase, err := regnode.NewBase(regkey.MustString("leaf"), regkey.MustString("widget"), regnode.HeaderSizeBytes)
	c.Assert(err, quicktest.IsNil)
	root.Map().Add(leafBase.Key(), &leafBase)

	path := regkey.NewPath(regkey.MustString("leaf"), regkey.MustString("anything"))
	_, err = GetByPath(root, path)
	c.Assert(err, quicktest.IsNotNil)
}
