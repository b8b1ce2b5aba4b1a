package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogpeppe/rcuregistry/gtsm"
	"github.com/rogpeppe/rcuregistry/registry"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Walk the whole tree of maps and print every entry",
	RunE:  runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	rs, ticket, err := newDemoRuntime()
	if err != nil {
		return err
	}
	defer rs.UnregisterThread(ticket)

	root := gtsm.Root()
	n := 0
	registry.IterateAll(rs, ticket, root, func(e registry.Entry) bool {
		fmt.Printf("%s/%s -> %s\n", e.Path, e.Key, e.Node.Base())
		n++
		return true
	})
	fmt.Printf("%d entries total\n", n)
	return nil
}
