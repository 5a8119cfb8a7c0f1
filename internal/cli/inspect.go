package cli

import (
	"github.com/spf13/cobra"

	"github.com/mickamy/relmap/internal/modelparse"
	"github.com/mickamy/relmap/orm"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.go>",
		Short: "Derive a YAML schema from tagged Go structs",
		Long: `Read the struct declarations of a Go file and print the equivalent
YAML schema document. Fields follow the db tag, relationships the rel
tag. The schema is validated before it is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := modelparse.Parse(args[0])
			if err != nil {
				return err
			}
			if _, err := freeze(s); err != nil {
				return err
			}
			return orm.WriteSchema(cmd.OutOrStdout(), s)
		},
	}
}
