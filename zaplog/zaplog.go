// Package zaplog adapts a zap logger to the orm.Logger interface.
package zaplog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mickamy/relmap/orm"
)

// Logger writes every statement submitted by an orm.DB at debug level.
type Logger struct {
	l *zap.SugaredLogger
}

var _ orm.Logger = (*Logger)(nil)

// New returns a Logger writing to l.
func New(l *zap.Logger) *Logger {
	return &Logger{l: l.Named("sql").Sugar()}
}

// Log implements orm.Logger.
func (l *Logger) Log(ctx context.Context, query string, args ...any) {
	kv := []any{"args", len(args)}
	if id := orm.SessionIDFromContext(ctx); id != "" {
		kv = append(kv, "session", id)
	}
	l.l.Debugw(query, kv...)
}

// Build returns a zap logger for level ("debug", "info", "warn", "error")
// and format ("console" or "json"). Console output uses the development
// encoder, json output the production one.
func Build(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("log format %q: must be console or json", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
