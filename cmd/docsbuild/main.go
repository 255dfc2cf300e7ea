// Command docsbuild runs the documentation build daemon, or drives
// one piece of it directly for operational/CI use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "docsbuild: unrecoverable: %v\n", r)
			os.Exit(101)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		if ce, ok := err.(*configError); ok {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configError marks a startup error as a configuration problem so
// main can map it to exit code 2 rather than the generic 1.
type configError struct{ err error }

func (c *configError) Error() string { return c.err.Error() }
func (c *configError) Unwrap() error { return c.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docsbuild",
		Short:         "build and host documentation for published crates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newDaemonCmd(),
		newBuildCmd(),
		newBuildLocalCmd(),
		newQueueCmd(),
		newDatabaseCmd(),
	)
	return root
}
