package main

import (
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/rogpeppe/rcuregistry/regalloc"
	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/registry"
	"github.com/rogpeppe/rcuregistry/gtsm"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Populate the registry then tear it down in layered epochs",
	RunE:  runTeardown,
}

func runTeardown(cmd *cobra.Command, args []string) error {
	var tick atomic.Int64
	tracking := regalloc.NewTracking(func() int64 { return tick.Add(1) })
	regalloc.SetSink(tracking)
	defer regalloc.SetSink(nil)

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

	for i := 0; i < 5; i++ {
		base, err := regnode.NewBase(regkey.Uint(0), ty.Base().Key(), regnode.HeaderSizeBytes+8)
		if err != nil {
			return err
		}
		if err := registry.Insert(rs, ticket, root, &counter{Base: base, value: i}); err != nil {
			return err
		}
	}

	before, exact, _ := registry.Count(rs, ticket, root)
	fmt.Printf("before teardown: approx=%d exact=%d, live allocations=%d\n", before, exact, tracking.LiveCount())

	if err := gtsm.Free(rs, ticket, root); err != nil {
		return err
	}
	fmt.Printf("teardown complete: root map destroyed, live allocations=%d\n", tracking.LiveCount())
	if n := tracking.LiveCount(); n != 0 {
		for _, line := range tracking.Report() {
			fmt.Println(line)
		}
	}
	return nil
}
