package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "gtctl",
		Short:         "Manage General Task folders, tasks and overview views",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(rootCmd)

	rootCmd.AddCommand(viewsCmd(opts))
	rootCmd.AddCommand(foldersCmd(opts))
	rootCmd.AddCommand(tasksCmd(opts))
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}
