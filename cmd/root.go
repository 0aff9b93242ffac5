package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:          "waypoint",
		Short:        "Travel assistant chat service with session memory",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), migrateCMD(), summarizeCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
