package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/requirements/audit"
	"github.com/git-pkgs/requirements/internal/manifest"
)

func (c *CLI) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [files...]",
		Short: "Report pins with newer admissible versions on the index",
		Long: `Audit scans each requirements file for records whose pinned version is
behind the newest version the index serves. Records annotated
"# pyup: ignore" are skipped and "# pyup: <bound>" directives cap the
versions that may be proposed.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, _ := cmd.Flags().GetBool("apply")

			auditor := audit.New(c.index(),
				audit.WithConcurrency(c.cfg.Concurrency),
				audit.WithIgnored(c.cfg.Ignore),
			)

			for _, path := range c.manifests(args) {
				f, err := manifest.ParseFile(path)
				if err != nil {
					return err
				}

				proposals, err := auditor.Outdated(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("auditing %s: %w", path, err)
				}

				for _, p := range proposals {
					cmd.Printf("%s: %s %s -> %s (%s)\n", path, p.Name, p.Current, p.Proposed, p.PURL)
				}
				if len(proposals) == 0 {
					cmd.Printf("%s: up to date\n", path)
					continue
				}

				if apply {
					audit.Apply(f, proposals)
					if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
						return fmt.Errorf("rewriting %s: %w", path, err)
					}
					cmd.Printf("%s: applied %d update(s)\n", path, len(proposals))
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("apply", false, "Rewrite the files with the proposed versions")
	return cmd
}
