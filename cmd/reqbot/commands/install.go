package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/requirements/install"
	"github.com/git-pkgs/requirements/internal/manifest"
)

func (c *CLI) newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <file> <dir>",
		Short: "Materialize a requirements file into an environment directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, dir := args[0], args[1]

			f, err := manifest.ParseFile(path)
			if err != nil {
				return err
			}

			envFlags, _ := cmd.Flags().GetStringArray("env")
			envVars, err := mergeEnvVars(c.cfg.EnvVars, envFlags)
			if err != nil {
				return err
			}

			pythonVersion, _ := cmd.Flags().GetString("python-version")
			installer := install.New(c.index(),
				install.WithPythonVersion(pythonVersion),
				install.WithEnvVars(envVars),
			)

			if check, _ := cmd.Flags().GetBool("check"); check {
				if err := installer.Verify(cmd.Context(), f); err != nil {
					return err
				}
				cmd.Printf("%s: all distributions reachable\n", path)
				return nil
			}

			if force, _ := cmd.Flags().GetBool("force"); !force {
				if !installer.IsObsolete(dir, f) {
					cmd.Printf("%s: environment up to date\n", dir)
					return nil
				}
			}

			if err := installer.Install(cmd.Context(), f, dir); err != nil {
				return err
			}
			cmd.Printf("%s: installed %d package(s)\n", dir, len(f.Records()))
			return nil
		},
	}

	cmd.Flags().String("python-version", "", "Interpreter version recorded in the environment fingerprint")
	cmd.Flags().StringArray("env", nil, "NAME=VALUE recorded in the environment fingerprint (repeatable)")
	cmd.Flags().Bool("check", false, "Only verify that every distribution is reachable")
	cmd.Flags().Bool("force", false, "Rebuild even when the environment fingerprint matches")
	return cmd
}

// mergeEnvVars combines the configured fingerprint variables with --env
// flags; flags win. Only these variables are hashed, never the whole
// process environment.
func mergeEnvVars(configured map[string]string, flags []string) (map[string]string, error) {
	vars := make(map[string]string, len(configured)+len(flags))
	for name, value := range configured {
		vars[name] = value
	}
	for _, kv := range flags {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --env %q, expected NAME=VALUE", kv)
		}
		vars[name] = value
	}
	return vars, nil
}
