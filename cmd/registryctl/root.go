package main

import (
	"github.com/spf13/cobra"

	"github.com/rogpeppe/rcuregistry/reglog"
)

var rootCmd = &cobra.Command{
	Use:   "registryctl",
	Short: "Drive a self-describing RCU registry through a handful of demo scenarios",
}

func init() {
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(crudCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(concurrencyCmd)
	rootCmd.AddCommand(dumpCmd)
}

func initLogging() {
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	reglog.SetSink(reglog.NewZerologSink(reglog.Config{JSONOutput: jsonOutput}))
}
