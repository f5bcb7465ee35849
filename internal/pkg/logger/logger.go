// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the global logger.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
	File   File   `yaml:"file"`
}

// File enables size-based rotation when Path is set.
type File struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Init configures the global zerolog logger for a service and returns the writer
// closer (non-nil only when logging to a rotated file).
func Init(serviceName string, cfg Config) io.Closer {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	var closer io.Closer
	if cfg.File.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    orDefault(cfg.File.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.File.MaxBackups, 5),
			MaxAge:     orDefault(cfg.File.MaxAgeDays, 14),
			Compress:   true,
		}
		out = rotated
		closer = rotated
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
	return closer
}

// Ctx returns the logger stored in ctx, or the global one, annotated with the
// active trace and span ids.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger != nil && ctxLogger.GetLevel() != zerolog.Disabled {
		l = *ctxLogger
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String()).Logger()
	}
	return &l
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
