package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(confirmCmd)
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Execute the pending rebase plan for this repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		result, err := svc.Confirm(cmd.Context(), repoDir)
		if err != nil {
			return err
		}

		if result.Conflict {
			fmt.Println("Paused: conflicts during rebase. Resolve them, then run `rebasectl continue`.")
			for _, f := range result.Conflicts {
				fmt.Printf("  %s\n", f)
			}
			return nil
		}

		fmt.Println("Rebase plan completed.")
		return nil
	},
}
