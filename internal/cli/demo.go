package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mickamy/relmap/internal/demo"
	"github.com/mickamy/relmap/zaplog"
)

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "demo [scenario...]",
		Short: "Run mapping walkthroughs",
		Long: `Run the named scenarios, or all of them, against the configured
database. Every scenario gets its own connection; with the default
in-memory SQLite database that is a fresh, empty database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				for _, name := range demo.Names() {
					summary, _ := demo.Summary(name)
					_, _ = fmt.Fprintf(out, "%-14s %s\n", name, summary)
				}
				return nil
			}

			names := args
			if len(names) == 0 {
				names = demo.Names()
			}
			for _, name := range names {
				if _, ok := demo.Summary(name); !ok {
					return fmt.Errorf("unknown scenario %q (see demo --list)", name)
				}
			}

			e, err := loadEnv(rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			for i, name := range names {
				if i > 0 {
					_, _ = fmt.Fprintln(out)
				}
				_, _ = fmt.Fprintf(out, "== %s ==\n", name)
				db, err := e.open(cmd.Context())
				if err != nil {
					return err
				}
				err = demo.Run(cmd.Context(), name, demo.Env{DB: db, Out: out, Logger: zaplog.New(e.logger)})
				_ = db.Close()
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list the scenarios")

	return cmd
}
