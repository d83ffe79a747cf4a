// Command agentloop runs one autonomous tool-calling agent session from
// the command line: it loads configuration, wires the Router, Memory,
// Dispatcher, and Loop together, and drives a single request to
// completion.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "agentloop",
		Short:   "Run an autonomous tool-calling agent session",
		Version: Version,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newUsageCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
