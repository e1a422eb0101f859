// Package logging provides the leveled, structured logger every
// component threads through via context. The teacher reaches for bare
// log.Printf call sites; this wraps zap (already pulled in transitively
// by the libp2p/fx dependency chain) behind the same terse one-line
// helper shape instead of inventing a bespoke format.
package logging

import (
	"context"

	"go.uber.org/zap"
)

// Logger is a thin alias so call sites don't import zap directly.
type Logger = zap.SugaredLogger

type ctxKey struct{}

// New builds a production-profile structured logger, or a development
// one when debug is set (human-readable console output, stack traces on
// warn+).
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// With attaches logger to ctx for downstream retrieval via From.
func With(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From retrieves the logger attached to ctx, falling back to a new
// no-op logger if none was attached (keeps call sites from needing a nil
// check).
func From(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return zap.NewNop().Sugar()
}
