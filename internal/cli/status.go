package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebasectl/rebasectl/internal/forgeclient"
	"github.com/rebasectl/rebasectl/internal/rebasectl"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of the current repository's rebase plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, repoDir, err := newService()
		if err != nil {
			return err
		}

		if statusFollow {
			return followStatus(cmd.Context(), svc, repoDir)
		}
		return renderStatus(os.Stdout, cmd.Context(), svc, repoDir)
	},
}

func followStatus(ctx context.Context, svc *rebasectl.Service, repoDir string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := renderStatus(&buf, ctx, svc, repoDir); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: rebasectl status\n\n", statusInterval)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

// forgeClientFor builds a forgeclient.Client from svc's forge settings, or
// nil when the repository has none configured. Status then renders without
// PR annotations rather than erroring.
func forgeClientFor(svc *rebasectl.Service) *forgeclient.Client {
	fc := svc.Config.Forge
	if fc == nil {
		return nil
	}
	return forgeclient.New(fc.BaseURL, fc.Owner, fc.Repo, fc.Token, fc.CacheTTL.Duration())
}

func renderStatus(w io.Writer, ctx context.Context, svc *rebasectl.Service, repoDir string) error {
	ui, err := svc.Status(ctx, repoDir)
	if err != nil {
		return err
	}
	forge := forgeClientFor(svc)

	fmt.Fprintln(w, "Rebase Status")
	fmt.Fprintln(w, "──────────────────────────────────────")

	if !ui.HasSession {
		if ui.IsRebasing {
			fmt.Fprintln(w, "  ◎  a rebase is in progress, but no plan is recorded for it")
		} else {
			fmt.Fprintln(w, "  ·  no rebase plan in progress")
		}
		return nil
	}

	symbol, color := sessionDisplay(ui.State.Session.Status)
	fmt.Fprintf(w, "  %s%s%s  %s (%d/%d jobs complete)\n", color, symbol, ansiReset,
		ui.State.Session.Status, ui.Progress.Completed, ui.Progress.Total)

	for _, job := range ui.State.JobsByID {
		jsym, jcolor := jobDisplay(job.Status)
		fmt.Fprintf(w, "    %s%s%s  %-20s  %s", jcolor, jsym, ansiReset, job.Branch, job.Status)
		if job.LastError != "" {
			fmt.Fprintf(w, "  (%s)", job.LastError)
		}
		if forge != nil {
			if pr, err := forge.PullRequestForBranch(ctx, job.Branch); err == nil && pr != nil {
				fmt.Fprintf(w, "  [PR #%d %s: %s]", pr.Number, pr.State, pr.Title)
			}
		}
		fmt.Fprintln(w)
	}

	if len(ui.Conflicts) > 0 {
		fmt.Fprintln(w, "\nConflicted files:")
		for _, f := range ui.Conflicts {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	return nil
}
