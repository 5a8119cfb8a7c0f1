package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mickamy/relmap/internal/modelparse"
)

// GenOptions holds flags of the gen command.
type GenOptions struct {
	Schema  string
	Package string
	Output  string
}

// NewGenCommand creates the gen command.
func NewGenCommand(_ *RootOptions) *cobra.Command {
	opts := &GenOptions{}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate Go code that registers a schema",
		Long: `Generate a Go file declaring NewRegistry, which registers every record
type of the schema with the builder API. The schema is a YAML document
or a Go file with tagged struct declarations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGen(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema file (.yaml or .go)")
	cmd.Flags().StringVar(&opts.Package, "package", "model", "package of the generated file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: stdout)")

	return cmd
}

func runGen(cmd *cobra.Command, opts *GenOptions) error {
	if opts.Schema == "" {
		return errors.New("--schema is required")
	}
	s, err := readSchema(opts.Schema)
	if err != nil {
		return err
	}
	if _, err := freeze(s); err != nil {
		return err
	}
	src, err := modelparse.Render(s, opts.Package)
	if err != nil {
		return err
	}

	if opts.Output == "" || opts.Output == "-" {
		_, err = cmd.OutOrStdout().Write(src)
		return err
	}
	if err := os.WriteFile(opts.Output, src, 0o644); err != nil { //nolint:gosec // generated code should be world-readable
		return fmt.Errorf("write %s: %w", opts.Output, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "relmap: wrote %s\n", opts.Output)
	return nil
}
