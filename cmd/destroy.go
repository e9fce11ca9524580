package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bkalan/shipit/internal/infra"
	"github.com/bkalan/shipit/internal/pipeline"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [run-id]",
	Short: "Tear down a deployment's cloud resources",
	Long: `Destroy the infrastructure of one run, or of every non-destroyed run
with --all. Destroy works on partially provisioned runs too: whatever the
provider state knows about gets cleaned up.

Examples:
  shipit destroy 4f1c9d2e-...
  shipit destroy --all
  shipit destroy --all --auto-approve`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug := viper.GetBool("debug")
		all, _ := cmd.Flags().GetBool("all")
		autoApprove, _ := cmd.Flags().GetBool("auto-approve")

		selector := ""
		switch {
		case all && len(args) > 0:
			return fmt.Errorf("pass either a run id or --all, not both")
		case all:
			selector = "all"
		case len(args) == 1:
			selector = args[0]
		default:
			return fmt.Errorf("a run id or --all is required")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		ledger, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		env := &infra.TargetEnvironment{}
		env.ApplyDefaults()
		coord := newCoordinator(ledger, env, "", "", debug)

		outcomes, err := coord.Destroy(ctx, selector, autoApprove)
		if err != nil {
			if errors.Is(err, pipeline.ErrApprovalDeclined) {
				fmt.Fprintln(os.Stderr, "aborted")
				return nil
			}
			return err
		}

		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Printf("%s: FAILED: %v\n", o.RunID, o.Err)
			} else {
				fmt.Printf("%s: destroyed\n", o.RunID)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d run(s) failed to destroy", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	destroyCmd.Flags().Bool("all", false, "destroy every non-destroyed run")
	destroyCmd.Flags().Bool("auto-approve", false, "skip the confirmation prompt")

	rootCmd.AddCommand(destroyCmd)
}
