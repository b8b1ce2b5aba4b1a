package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/registry"
	"github.com/rogpeppe/rcuregistry/regtype"
	"github.com/rogpeppe/rcuregistry/gtsm"
	"github.com/rogpeppe/rcuregistry/tsm"
)

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Build a nested tree of maps and resolve it by path",
	RunE:  runPath,
}

func runPath(cmd *cobra.Command, args []string) error {
	rs, ticket, err := newDemoRuntime()
	if err != nil {
		return err
	}
	defer rs.UnregisterThread(ticket)

	root := gtsm.Root()
	counterTy, err := newCounterType(rs, ticket)
	if err != nil {
		return err
	}

	mapTypeKey, err := regkey.String("demo.submap")
	if err != nil {
		return err
	}
	mapTy, err := regtype.New(mapTypeKey, regtype.RootTypeKey(), regnode.HeaderSizeBytes,
		func(n regnode.Node) {},
		func(owner, n regnode.Node) bool { _, ok := n.(*tsm.TSM); return ok },
		func(n regnode.Node) string { return "<submap>" },
	)
	if err != nil {
		return err
	}
	if err := registry.Insert(rs, ticket, root, mapTy); err != nil {
		return err
	}

	subKey, err := regkey.String("sub")
	if err != nil {
		return err
	}
	sub, err := tsm.Create(root, subKey, mapTy.Base().Key())
	if err != nil {
		return err
	}
	if err := registry.Insert(rs, ticket, root, sub); err != nil {
		return err
	}

	// A Type Node's key resolution is local to a single map, so sub needs
	// its own copy of the root type before it can host any Type Node of
	// its own, then demo.counter, before it can host a counter instance.
	rootTypeVal, _ := root.Map().Get(regtype.RootTypeKey())
	rs.DisableSafetyChecks()
	sub.Map().Add(regtype.RootTypeKey(), rootTypeVal)
	rs.EnableSafetyChecks()
	if err := registry.Insert(rs, ticket, sub, counterTy); err != nil {
		return err
	}

	leafKey, err := regkey.String("leaf")
	if err != nil {
		return err
	}
	base, err := regnode.NewBase(leafKey, counterTy.Base().Key(), regnode.HeaderSizeBytes+8)
	if err != nil {
		return err
	}
	leaf := &counter{Base: base, value: 7}
	if err := registry.Insert(rs, ticket, sub, leaf); err != nil {
		return err
	}

	path := regkey.NewPath(subKey, leafKey)
	found, err := registry.GetByPath(rs, ticket, root, path)
	if err != nil {
		return err
	}
	fmt.Printf("resolved %s -> %s\n", path, found.(*counter).Base())

	parent, err := registry.GetByPathAtDepth(rs, ticket, root, path, -2)
	if err != nil {
		return err
	}
	fmt.Printf("parent at depth -2: %s\n", parent.Base())
	return nil
}
