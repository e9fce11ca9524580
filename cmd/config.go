package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage shipit configuration",
	Long:  `Configure shipit settings including the AI provider, API keys, and timeouts.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in your home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error finding home directory: %w", err)
		}

		configPath := filepath.Join(home, ".shipit.yaml")

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Configuration file already exists at %s\n", configPath)
			return nil
		}

		if err := os.WriteFile(configPath, []byte(defaultConfig), 0600); err != nil {
			return fmt.Errorf("error writing config file: %w", err)
		}

		fmt.Printf("Created configuration file at %s\n", configPath)
		fmt.Println("Edit it to set your AI provider and API key.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration",
	Long:  `Print the configuration values shipit resolved from file, flags, and environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if file := viper.ConfigFileUsed(); file != "" {
			fmt.Printf("config file: %s\n", file)
		} else {
			fmt.Println("config file: (none, using defaults)")
		}
		fmt.Printf("ai provider: %s\n", orDefault(viper.GetString("ai.default_provider"), "openai"))
		fmt.Printf("ledger:      %s\n", orDefault(viper.GetString("ledger.path"), "$HOME/.shipit/runs.db"))
		fmt.Printf("gcp project: %s\n", orDefault(viper.GetString("gcp.project"), "(from gcloud)"))
		for _, key := range []string{"timeouts.fetch", "timeouts.analyze", "timeouts.provision", "timeouts.bootstrap", "timeouts.connect"} {
			fmt.Printf("%-12s %s\n", key+":", viper.GetString(key))
		}
		return nil
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

const defaultConfig = `# shipit configuration
ai:
  default_provider: openai # openai | anthropic | gemini | gemini-api
  providers:
    openai:
      # api_key: sk-...
      api_key_env: OPENAI_API_KEY
      model: gpt-4o
    anthropic:
      api_key_env: ANTHROPIC_API_KEY
      model: claude-sonnet-4-20250514
    gemini-api:
      api_key_env: GEMINI_API_KEY
      model: gemini-2.0-flash

# gcp:
#   project: my-project-id

# ledger:
#   path: /path/to/runs.db

timeouts:
  fetch: 2m
  analyze: 90s
  provision: 15m
  bootstrap: 10m
  connect: 3m

# rewrite:
#   exclude:
#     - node_modules/**
#     - vendor/**
`

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
