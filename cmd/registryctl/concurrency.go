package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rogpeppe/rcuregistry/regkey"
	"github.com/rogpeppe/rcuregistry/regnode"
	"github.com/rogpeppe/rcuregistry/registry"
	"github.com/rogpeppe/rcuregistry/gtsm"
)

var concurrencyCmd = &cobra.Command{
	Use:   "concurrency-demo",
	Short: "Race goroutines inserting the same key, and upsert the survivor",
	RunE:  runConcurrency,
}

func runConcurrency(cmd *cobra.Command, args []string) error {
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

	raceKey := regkey.Uint(9001)
	const workers = 8
	wins := make([]bool, workers)

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			t := rs.RegisterThread()
			defer rs.UnregisterThread(t)
			base, err := regnode.NewBase(raceKey, ty.Base().Key(), regnode.HeaderSizeBytes+8)
			if err != nil {
				return err
			}
			err = registry.Insert(rs, t, root, &counter{Base: base, value: i})
			wins[i] = err == nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	fmt.Printf("exactly one insert should win: %d did\n", winners)

	_, exact, _ := registry.Count(rs, ticket, root)
	fmt.Printf("live node count: %d\n", exact)

	upsertBase, err := regnode.NewBase(raceKey, ty.Base().Key(), regnode.HeaderSizeBytes+8)
	if err != nil {
		return err
	}
	if err := registry.Upsert(rs, ticket, root, &counter{Base: upsertBase, value: 999}); err != nil {
		return err
	}
	got, err := registry.Get(rs, ticket, root, raceKey)
	if err != nil {
		return err
	}
	fmt.Printf("after upsert: %d\n", got.(*counter).value)
	return nil
}
