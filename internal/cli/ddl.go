package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mickamy/relmap/orm"
)

// DDLOptions holds flags of the ddl command.
type DDLOptions struct {
	Schema  string
	Dialect string
	Apply   bool
}

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DDLOptions{}

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print or apply the CREATE TABLE statements of a schema",
		Long: `Print the CREATE TABLE statements of a schema, referenced tables first.

The schema is a YAML document or a Go file with tagged struct
declarations. With --apply the statements run in one transaction against
the configured database instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDDL(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema file (.yaml or .go)")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "sqlite", "dialect to render (sqlite|postgres|mysql)")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "create the tables in the configured database")

	return cmd
}

func runDDL(cmd *cobra.Command, rootOpts *RootOptions, opts *DDLOptions) error {
	if opts.Schema == "" {
		return errors.New("--schema is required")
	}
	s, err := readSchema(opts.Schema)
	if err != nil {
		return err
	}
	reg, err := freeze(s)
	if err != nil {
		return err
	}

	if opts.Apply {
		e, err := loadEnv(rootOpts)
		if err != nil {
			return err
		}
		defer func() { _ = e.logger.Sync() }()
		db, err := e.open(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := orm.CreateAll(cmd.Context(), db, reg); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %d table(s)\n", len(reg.Types()))
		return nil
	}

	d, err := orm.DialectFor(opts.Dialect)
	if err != nil {
		return err
	}
	stmts, err := orm.DDL(d, reg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), strings.Join(stmts, ";\n\n")+";\n")
	return err
}
