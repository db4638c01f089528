// Package logging builds the zap loggers used across the collector and the
// helpers that trace public operations.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/housedata-crawler/internal/clock/system"
)

// Config controls where log lines go.
type Config struct {
	// Development switches the console to a colored, human friendly encoder.
	Development bool
	// Level is the minimum level ("info", "warn", "error"); empty means info.
	Level string
	// Dir receives one <YYYY-MM-DD>.log file per day. Empty disables the file sink.
	Dir string
}

// Clock reports the current time; the file sink uses it to pick the day.
type Clock interface {
	Now() time.Time
}

// Option customizes New.
type Option func(*options)

type options struct {
	console zapcore.WriteSyncer
	clock   Clock
}

// WithConsole replaces stderr as the console destination.
func WithConsole(ws zapcore.WriteSyncer) Option {
	return func(o *options) { o.console = ws }
}

// WithClock sets the clock that decides which daily file is written.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds a logger that writes to the console and, when cfg.Dir is set, to
// a date-named file. Neither an unknown level nor a file sink that cannot be
// opened fails construction: the logger falls back to info on the console and
// reports what it skipped. The returned close func releases the file.
func New(cfg Config, opts ...Option) (*zap.Logger, func() error) {
	o := options{console: zapcore.Lock(os.Stderr), clock: system.NewLocal()}
	for _, opt := range opts {
		opt(&o)
	}

	level, levelErr := parseLevel(cfg.Level)
	console := zapcore.NewCore(consoleEncoder(cfg.Development), o.console, level)
	logger := zap.New(console, zap.AddCaller())
	closeFn := func() error { return nil }

	if cfg.Dir != "" {
		writer, err := NewDailyFileWriter(cfg.Dir, o.clock)
		if err != nil {
			logger.Warn("file logging disabled, using console only",
				zap.String("dir", cfg.Dir),
				zap.Error(err),
			)
		} else {
			file := zapcore.NewCore(fileEncoder(), zapcore.AddSync(writer), level)
			logger = zap.New(zapcore.NewTee(console, file), zap.AddCaller())
			closeFn = writer.Close
		}
	}

	if levelErr != nil {
		logger.Warn("unknown log level, using info",
			zap.String("log_level", cfg.Level),
			zap.Error(levelErr),
		)
	}
	return logger, closeFn
}

func parseLevel(raw string) (zapcore.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level %q: %w", raw, err)
	}
	return level, nil
}

func consoleEncoder(development bool) zapcore.Encoder {
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func fileEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}
