// Command registryctl is a demo CLI driving the Registry through its
// collaborator-facing operations surface end to end: basic CRUD, a
// recursive path walk, layered teardown, and a concurrency race
// between goroutines.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
