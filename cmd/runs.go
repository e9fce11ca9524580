package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bkalan/shipit/internal/run"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded deployment runs",
	Long: `List the runs in the local ledger with their stage and host.

Examples:
  shipit runs
  shipit runs --active`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		ledger, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		var recs []*run.Record
		if activeOnly {
			recs, err = ledger.ListActive(ctx)
		} else {
			recs, err = ledger.List(ctx)
		}
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTAGE\tREPO\tHOST\tUPDATED")
		for _, rec := range recs {
			host := ""
			if rec.Provision != nil {
				host = rec.Provision.HostAddress
			}
			stage := string(rec.Stage)
			if rec.Stage == run.StageFailed && rec.FailStage != "" {
				stage = fmt.Sprintf("FAILED(%s)", rec.FailStage)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.RunID, stage, rec.RepoURL, host, rec.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().Bool("active", false, "only show non-destroyed runs")

	rootCmd.AddCommand(runsCmd)
}
