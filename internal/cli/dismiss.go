package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(dismissCmd)
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss",
	Short: "Acknowledge and clear a completed or failed plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		if _, err := svc.Dismiss(cmd.Context(), repoDir); err != nil {
			return err
		}

		fmt.Println("Dismissed.")
		return nil
	},
}
