// Package commands defines all Cobra CLI commands for the sitechat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/sitechat-go/internal/audit"
	"github.com/54b3r/sitechat-go/internal/config"
	"github.com/54b3r/sitechat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sitechat",
		Short: "sitechat: answer questions about a website from its own pages",
		Long: `sitechat indexes the pages listed in a website's sitemap into a vector
store and answers visitor questions with a retrieval-augmented model, streaming
the reply over Server-Sent Events.

Configuration is read from the environment, then a .env file, then a YAML
file (~/.sitechat/config.yaml or ./sitechat.yaml). The model backend is
selected with MODEL_PROVIDER and the store with VECTOR_STORE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			loadedEnv, err := config.LoadDotEnv(envFile, log)
			if err != nil {
				return err
			}

			// Env vars (including .env) always override YAML values.
			loadedConfig, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), loadedConfig, loadedEnv)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.sitechat/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewRunsCmd(),
		NewVersionCmd(),
	)

	return root
}
