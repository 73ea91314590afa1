package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Reconcile recorded state and continue driving the active plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}
		result, err := svc.Resume(cmd.Context(), repoDir)
		if err != nil {
			return err
		}
		return renderContinueResult(result)
	},
}
