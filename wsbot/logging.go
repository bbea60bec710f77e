package wsbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

// newLogHandler returns the tint handler every component logs through.
// A nil level logs at info.
func newLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	if lv, ok := level.(*slog.LevelVar); ok && lv == nil {
		level = slog.LevelInfo
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return tint.NewHandler(
		w, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// componentLogger returns a logger for the named component, writing
// at the given level
func componentLogger(name string, level slog.Leveler) *slog.Logger {
	return slog.New(newLogHandler(defaultLogWriter, level)).With(
		loggerNameKey,
		name,
	)
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// gormStructuredLogger adapts gorm's logger interface to slog
type gormStructuredLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		SlowThreshold: slowThreshold,
	}
}

// LogMode is a no-op, the level is controlled by the slog handler
func (g *gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g *gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	attrs := []any{
		"elapsed", elapsed,
		"threshold", g.SlowThreshold,
		"sql", s,
	}
	if rowsAffected == -1 {
		attrs = append(attrs, "rows", "-")
	} else {
		attrs = append(attrs, "rows", rowsAffected)
	}
	if err != nil {
		attrs = append(attrs, tint.Err(err))
	}

	switch {
	case g.SlowThreshold != 0 && elapsed > g.SlowThreshold:
		g.logger.WarnContext(ctx, "slow sql", attrs...)
	default:
		g.logger.DebugContext(ctx, "sql completed", attrs...)
	}
}
