package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rebasectl/rebasectl/internal/rebasectl"
)

func init() {
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit <head-sha> <base-sha>",
	Short: "Preview rebasing the branch at head-sha onto base-sha",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		result, err := svc.Submit(cmd.Context(), repoDir, args[0], args[1])
		if err != nil {
			return err
		}

		switch result.Kind {
		case rebasectl.SubmitOK:
			fmt.Println("Plan:")
			for _, job := range result.PreviewUI.State.JobsByID {
				fmt.Printf("  %s  %s -> %s\n", job.Branch, short(job.OldBaseSha), short(job.NewBaseSha))
			}
			fmt.Println("\nRun `rebasectl confirm` to execute this plan.")
			return nil
		case rebasectl.SubmitWorktreeConflict:
			fmt.Fprintf(os.Stderr, "Cannot submit: %s\n", result.Message)
			for _, b := range result.Conflicts {
				fmt.Fprintf(os.Stderr, "  %s\n", b)
			}
			return fmt.Errorf("worktree conflict")
		default:
			return fmt.Errorf("rejected: %s", result.Message)
		}
	},
}
