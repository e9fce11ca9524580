package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bkalan/shipit/internal/cli"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Check the external tools a deploy needs",
	Long: `Check for git, terraform, and gcloud, and offer to install terraform
when it is missing.

Examples:
  shipit deps
  shipit deps --install`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debug := viper.GetBool("debug")
		install, _ := cmd.Flags().GetBool("install")

		checker := cli.NewDependencyChecker(debug)
		cli.PrintDependencyStatus(checker.CheckAll())

		if !install {
			return nil
		}

		missing := checker.CheckMissing()
		if len(missing) == 0 {
			fmt.Println("all tools present")
			return nil
		}

		ok, err := cli.PromptForInstall(missing)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		installer := cli.NewInstaller(debug)
		opts := cli.DefaultInstallOptions()
		for _, dep := range missing {
			if err := installer.Install(cmd.Context(), dep.Name, opts); err != nil {
				fmt.Printf("could not install %s: %v\n", dep.Name, err)
				continue
			}
			fmt.Printf("%s installed\n", dep.Name)
		}
		return nil
	},
}

func init() {
	depsCmd.Flags().Bool("install", false, "offer to install missing tools")

	rootCmd.AddCommand(depsCmd)
}
