package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Drop the pending or in-flight rebase plan for this repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		if _, err := svc.Cancel(cmd.Context(), repoDir); err != nil {
			return err
		}

		fmt.Println("Cancelled.")
		return nil
	},
}
