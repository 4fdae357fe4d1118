package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/requirements/internal/manifest"
)

func (c *CLI) newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint [files...]",
		Short: "Parse and validate requirements files",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range c.manifests(args) {
				if err := lintFile(path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				cmd.Printf("%s: ok\n", path)
			}
			return nil
		},
	}
}

func lintFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	f, err := manifest.Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	// A parse-serialize cycle must reproduce the file.
	if !bytes.Equal(normalizeTrailingNewline(data), f.Bytes()) {
		return fmt.Errorf("file does not round-trip through the parser")
	}
	return nil
}

func normalizeTrailingNewline(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		return append(append([]byte{}, data...), '\n')
	}
	return data
}
