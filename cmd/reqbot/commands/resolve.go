package commands

import (
	"github.com/spf13/cobra"

	"github.com/git-pkgs/requirements/internal/manifest"
	"github.com/git-pkgs/requirements/resolve"
)

func (c *CLI) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [files...]",
		Short: "Compute the transitive dependency closure and detect conflicts",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := resolve.New(c.index(), resolve.WithConcurrency(c.cfg.Concurrency))

			for _, path := range c.manifests(args) {
				f, err := manifest.ParseFile(path)
				if err != nil {
					return err
				}

				closure, err := resolver.Closure(cmd.Context(), f)
				if err != nil {
					return err
				}

				cmd.Printf("%s: %d package(s) in closure\n", path, len(closure.Nodes))
				for _, name := range closure.Names() {
					node := closure.Nodes[name]
					if node.Pinned != "" {
						cmd.Printf("  %s==%s\n", name, node.Pinned)
						continue
					}
					cmd.Printf("  %s (unpinned", name)
					for _, req := range node.Requirements {
						cmd.Printf("; %s", req)
					}
					cmd.Printf(")\n")
				}
			}
			return nil
		},
	}
}
