package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogpeppe/rcuregistry/rcu"
	"github.com/rogpeppe/rcuregistry/rcusafe"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/registry"
	"github.com/rogpeppe/rcuregistry/regtype"
	"github.com/rogpeppe/rcuregistry/gtsm"
)

// counter is a minimal node payload used by the demo commands: a Base
// header plus a single integer value.
type counter struct {
	regnode.Base
	value int
}

var crudCmd = &cobra.Command{
	Use:   "crud",
	Short: "Insert, get, update, and defer-free a single node",
	RunE:  runCRUD,
}

func newDemoRuntime() (*rcusafe.Runtime, *rcusafe.Ticket, error) {
	rs := rcusafe.NewRuntime(rcu.New())
	if _, err := gtsm.Init(rs); err != nil {
		return nil, nil, err
	}
	ticket := rs.RegisterThread()
	return rs, ticket, nil
}

func newCounterType(rs *rcusafe.Runtime, ticket *rcusafe.Ticket) (*regtype.Type, error) {
	root := gtsm.Root()
	counterTypeKey, err := regkey.String("demo.counter")
	if err != nil {
		return nil, err
	}
	ty, err := regtype.New(counterTypeKey, regtype.RootTypeKey(), regnode.HeaderSizeBytes+8,
		func(n regnode.Node) {},
		func(owner, n regnode.Node) bool {
			_, ok := n.(*counter)
			return ok
		},
		func(n regnode.Node) string {
			c := n.(*counter)
			return fmt.Sprintf("counter(%d)", c.value)
		},
	)
	if err != nil {
		return nil, err
	}
	if err := registry.Insert(rs, ticket, root, ty); err != nil {
		return nil, err
	}
	return ty, nil
}

func runCRUD(cmd *cobra.Command, args []string) error {
	rs, ticket, err := newDemoRuntime()
	if err != nil {
		return err
	}
	defer rs.UnregisterThread(ticket)

	root := gtsm.Root()
	ty, err := newCounterType(rs, ticket)
	if err != nil {
		return err
	}

	base, err := regnode.NewBase(regkey.Uint(0), ty.Base().Key(), regnode.HeaderSizeBytes+8)
	if err != nil {
		return err
	}
	c := &counter{Base: base, value: 42}
	if err := registry.Insert(rs, ticket, root, c); err != nil {
		return err
	}
	fmt.Printf("inserted %s = %d\n", c.Base().Key(), c.value)

	got, err := registry.Get(rs, ticket, root, c.Base().Key())
	if err != nil {
		return err
	}
	fmt.Printf("read back %d\n", got.(*counter).value)

	updated := &counter{Base: base, value: 84}
	if err := registry.Update(rs, ticket, root, updated); err != nil {
		return err
	}
	got, err = registry.Get(rs, ticket, root, c.Base().Key())
	if err != nil {
		return err
	}
	fmt.Printf("after update: %d\n", got.(*counter).value)

	if err := registry.DeferFree(rs, ticket, root, c.Base().Key()); err != nil {
		return err
	}
	rs.Barrier(ticket)

	if _, err := registry.Get(rs, ticket, root, c.Base().Key()); err != nil {
		fmt.Printf("after defer-free + barrier: %v\n", err)
	}
	return nil
}
