package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(abortCmd)
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Unwind the active rebase and clear the plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		if _, err := svc.Abort(cmd.Context(), repoDir); err != nil {
			return err
		}

		fmt.Println("Aborted.")
		return nil
	},
}
