package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rebasectl",
	Short: "Rebase a branch and its stacked descendants in one operation",
	Long: `rebasectl rebases a branch and every branch stacked on top of it onto a
new base, one branch at a time, pausing for the user to resolve conflicts
and resuming exactly where it left off.

State survives process restarts: a plan, once confirmed, is driven to
completion across however many invocations of this CLI it takes.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "path", "p", "rebasectl.yaml", "Path to rebasectl config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rebasectl %s\n", Version)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
