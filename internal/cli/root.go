// Package cli implements the relmap command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mickamy/relmap/internal/config"
	"github.com/mickamy/relmap/internal/modelparse"
	"github.com/mickamy/relmap/orm"
	"github.com/mickamy/relmap/zaplog"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile  string
	DatabaseURL string // overrides the configured URL when set
	Verbose     bool
}

// NewRootCommand creates the root command of the relmap CLI.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "relmap",
		Short:        "relmap - declarative record mapping over SQL",
		Long:         "Inspect schemas, render DDL and registry code, and run mapping walkthroughs.",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: ./relmap.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "connection URL (overrides RELMAP_DATABASE_URL)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log every statement")

	cmd.AddCommand(NewDDLCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewGenCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))

	return cmd
}

// env is the configuration shared by commands touching a database.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.DatabaseURL != "" {
		cfg.Database.URL = opts.DatabaseURL
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := zaplog.Build(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) open(ctx context.Context) (*orm.DB, error) {
	return orm.Open(ctx, e.cfg.Database.URL,
		orm.WithDriver(e.cfg.Database.Driver),
		orm.WithLogger(zaplog.New(e.logger)),
	)
}

// readSchema reads a YAML schema document or, for .go files, derives the
// schema from the struct declarations.
func readSchema(path string) (*orm.Schema, error) {
	if strings.EqualFold(filepath.Ext(path), ".go") {
		return modelparse.Parse(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer func() { _ = f.Close() }()
	return orm.ReadSchema(f)
}

// freeze builds and validates the registry of s.
func freeze(s *orm.Schema) (*orm.Registry, error) {
	reg, err := s.Registry()
	if err != nil {
		return nil, err
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return reg, nil
}
