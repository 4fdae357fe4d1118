// Package commands implements the CLI commands for the reqbot tool.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/requirements/client"
	"github.com/git-pkgs/requirements/internal/config"
	"github.com/git-pkgs/requirements/internal/index"
)

// CLI represents the command line interface for reqbot.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config
}

// New creates a new CLI instance.
func New() *CLI {
	rootCmd := &cobra.Command{
		Use:           "reqbot",
		Short:         "Lint, audit, resolve, and install pinned requirements manifests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the bot configuration file")
	rootCmd.PersistentFlags().String("index", "", "Package index URL (overrides configuration)")

	c := &CLI{rootCmd: rootCmd}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := config.NewLoader().Load(path)
		if err != nil {
			return err
		}
		if indexURL, _ := cmd.Flags().GetString("index"); indexURL != "" {
			cfg.Index = indexURL
		}
		c.cfg = cfg
		return nil
	}

	rootCmd.AddCommand(c.newLintCmd())
	rootCmd.AddCommand(c.newAuditCmd())
	rootCmd.AddCommand(c.newResolveCmd())
	rootCmd.AddCommand(c.newInstallCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOut redirects command output. Used for testing.
func (c *CLI) SetOut(w interface{ Write(p []byte) (int, error) }) {
	c.rootCmd.SetOut(w)
}

func (c *CLI) index() *index.Client {
	return index.New(c.cfg.Index, client.DefaultClient())
}

// manifests returns the requirements files to operate on: explicit
// arguments win over the configured defaults.
func (c *CLI) manifests(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return c.cfg.Requirements
}
