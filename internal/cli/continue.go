package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rebasectl/rebasectl/internal/rebasectl"
)

func init() {
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(skipCmd)
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Resume the active job after resolving its conflict",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}
		result, err := svc.Continue(cmd.Context(), repoDir)
		if err != nil {
			return err
		}
		return renderContinueResult(result)
	},
}

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip the conflicting commit in the active job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}
		result, err := svc.Skip(cmd.Context(), repoDir)
		if err != nil {
			return err
		}
		return renderContinueResult(result)
	},
}

func renderContinueResult(result *rebasectl.ContinueResult) error {
	if result.Conflict {
		fmt.Println("Paused: conflicts during rebase. Resolve them, then run `rebasectl continue`.")
		for _, f := range result.Conflicts {
			fmt.Printf("  %s\n", f)
		}
		return nil
	}
	fmt.Println("Rebase plan completed.")
	return nil
}
