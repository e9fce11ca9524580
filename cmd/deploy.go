package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bkalan/shipit/internal/ai"
	"github.com/bkalan/shipit/internal/analyze"
	"github.com/bkalan/shipit/internal/cli"
	"github.com/bkalan/shipit/internal/infra"
	"github.com/bkalan/shipit/internal/pipeline"
	"github.com/bkalan/shipit/internal/remote"
	"github.com/bkalan/shipit/internal/repo"
	"github.com/bkalan/shipit/internal/rewrite"
	"github.com/bkalan/shipit/internal/run"
	"github.com/bkalan/shipit/internal/terraform"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [repo-url]",
	Short: "Deploy a repository to the cloud from a natural-language prompt",
	Long: `Clone a repository, derive a deployment plan from your prompt, render
infrastructure templates, provision an instance, and bootstrap the app on it.

Examples:
  shipit deploy https://github.com/user/repo --prompt "deploy this flask app"
  shipit deploy https://github.com/user/repo --prompt "host my api" --provider aws --region us-west-2
  shipit deploy https://github.com/user/repo --prompt "test deployment" --auto-approve
  shipit deploy https://github.com/user/repo --prompt "redeploy" --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoURL := args[0]
		debug := viper.GetBool("debug")

		prompt, _ := cmd.Flags().GetString("prompt")
		revision, _ := cmd.Flags().GetString("revision")
		autoApprove, _ := cmd.Flags().GetBool("auto-approve")
		force, _ := cmd.Flags().GetBool("force")
		envFile, _ := cmd.Flags().GetString("env-file")
		provider, _ := cmd.Flags().GetString("provider")
		region, _ := cmd.Flags().GetString("region")
		machine, _ := cmd.Flags().GetString("machine")

		applyAIFlagOverrides(cmd)
		aiProvider, _ := cmd.Flags().GetString("ai-provider")
		model, _ := cmd.Flags().GetString("model")

		env, err := infra.LoadTargetEnvironment(envFile)
		if err != nil {
			return err
		}
		if provider != "" {
			env.Provider = provider
		}
		if region != "" {
			env.Region = region
		}
		if machine != "" {
			env.Machine = machine
		}
		env.ApplyDefaults()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		ledger, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		coord := newCoordinator(ledger, env, aiProvider, model, debug)

		rec, err := coord.Deploy(ctx, pipeline.DeployRequest{
			Intent:      prompt,
			RepoURL:     repoURL,
			Revision:    revision,
			Env:         env,
			AutoApprove: autoApprove,
			Force:       force,
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrApprovalDeclined) {
				fmt.Fprintln(os.Stderr, "aborted")
				return nil
			}
			if rec != nil && rec.FailStage != "" {
				return fmt.Errorf("run %s failed at stage %s: %w", rec.RunID, rec.FailStage, err)
			}
			return err
		}

		fmt.Printf("run %s deployed on %s\n", rec.RunID, rec.Provision.HostAddress)
		return nil
	},
}

// newCoordinator wires the real stage components behind the coordinator's
// seams.
func newCoordinator(ledger *run.Ledger, env *infra.TargetEnvironment, aiProvider, model string, debug bool) *pipeline.Coordinator {
	out := os.Stderr

	aiClient := ai.NewClient(aiProvider, model, debug)
	analyzer := analyze.NewAnalyzer(aiClient.AskPrompt, aiClient.CleanJSONResponse, stageTimeout("timeouts.analyze", 90*time.Second), debug)

	rewriter, err := rewrite.NewRewriter(viper.GetStringSlice("rewrite.exclude"))
	if err != nil {
		// Bad config pattern; fall back to the defaults rather than abort.
		fmt.Fprintf(out, "[rewrite] invalid exclude config, using defaults: %v\n", err)
		rewriter, _ = rewrite.NewRewriter(nil)
	}

	executor := remote.NewExecutor(env.SSHUser, stageTimeout("timeouts.connect", 3*time.Minute), out, debug)

	return pipeline.New(pipeline.Deps{
		Ledger:    ledger,
		Fetcher:   repo.NewFetcher(debug),
		Analyzer:  analyzer,
		Rewriter:  rewriter,
		Render:    infra.Render,
		Terraform: terraform.NewClient(out, debug),
		Executor:  executor,
		Archive:   remote.Archive,
		Confirm:   cli.Confirm,
		EnsureKey: func() (string, string, error) {
			return pipeline.EnsureKeyPair(pipeline.DefaultKeyDir())
		},
		GCPProject: pipeline.ResolveGCPProject,
		WorkRoot:   pipeline.DefaultWorkRoot(),
		Timeouts: pipeline.Timeouts{
			Fetch:     stageTimeout("timeouts.fetch", 2*time.Minute),
			Analyze:   stageTimeout("timeouts.analyze", 90*time.Second),
			Provision: stageTimeout("timeouts.provision", 15*time.Minute),
			Bootstrap: stageTimeout("timeouts.bootstrap", 10*time.Minute),
		},
		Out:   out,
		Debug: debug,
	})
}

func openLedger(ctx context.Context) (*run.Ledger, error) {
	path := viper.GetString("ledger.path")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot locate home directory for ledger: %w", err)
		}
		path = home + "/.shipit/runs.db"
	}
	return run.OpenLedger(ctx, path)
}

func stageTimeout(key string, def time.Duration) time.Duration {
	d := viper.GetDuration(key)
	if d <= 0 {
		return def
	}
	return d
}

// applyAIFlagOverrides pushes key/model flags into the config keys the AI
// client reads, so flags win over the config file.
func applyAIFlagOverrides(cmd *cobra.Command) {
	if v, _ := cmd.Flags().GetString("openai-key"); v != "" {
		viper.Set("ai.providers.openai.api_key", v)
	}
	if v, _ := cmd.Flags().GetString("anthropic-key"); v != "" {
		viper.Set("ai.providers.anthropic.api_key", v)
	}
	if v, _ := cmd.Flags().GetString("gemini-key"); v != "" {
		viper.Set("ai.providers.gemini-api.api_key", v)
	}
}

func init() {
	deployCmd.Flags().String("prompt", "", "natural-language deployment intent (required)")
	deployCmd.Flags().String("revision", "", "pin a commit SHA or branch instead of the default branch")
	deployCmd.Flags().Bool("auto-approve", false, "skip the confirmation prompt before provisioning")
	deployCmd.Flags().Bool("force", false, "deploy even when an active run already holds resources for this target")
	deployCmd.Flags().String("env-file", "", "YAML target-environment descriptor")
	deployCmd.Flags().String("provider", "", "cloud provider: gcp or aws (overrides env-file)")
	deployCmd.Flags().String("region", "", "target region (overrides env-file)")
	deployCmd.Flags().String("machine", "", "machine profile: small, medium, large")
	deployCmd.Flags().String("ai-provider", "", "LLM provider: openai, anthropic, gemini, gemini-api")
	deployCmd.Flags().String("model", "", "override the LLM model for this run")
	deployCmd.Flags().String("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY)")
	deployCmd.Flags().String("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY)")
	deployCmd.Flags().String("gemini-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	deployCmd.MarkFlagRequired("prompt")

	rootCmd.AddCommand(deployCmd)
}
