package logger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quiltdb/quilt/utils"
)

type slogLogger struct {
	Logger        *slog.Logger
	LogLevel      LogLevel
	SlowThreshold time.Duration
}

// NewSlogLogger creates a new logger using slog
func NewSlogLogger(logger *slog.Logger, config Config) Interface {
	return &slogLogger{
		Logger:        logger,
		LogLevel:      config.LogLevel,
		SlowThreshold: config.SlowThreshold,
	}
}

func (l *slogLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *slogLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.log(ctx, slog.LevelInfo, msg, slog.Any("data", data))
	}
}

func (l *slogLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.log(ctx, slog.LevelWarn, msg, slog.Any("data", data))
	}
}

func (l *slogLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.log(ctx, slog.LevelError, msg, slog.Any("data", data))
	}
}

func (l *slogLogger) Trace(ctx context.Context, begin time.Time, fc func() (op string, touched int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	op, touched := fc()

	attrs := []slog.Attr{
		slog.String("duration", fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6)),
		slog.String("op", op),
	}
	if touched != -1 {
		attrs = append(attrs, slog.Int64("touched", touched))
	}

	switch {
	case err != nil:
		l.log(ctx, slog.LevelError, "operation failed", append(attrs, slog.Any("error", err))...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		l.log(ctx, slog.LevelWarn, "slow operation", append(attrs, slog.String("slow_threshold", l.SlowThreshold.String()))...)
	case l.LogLevel >= Info:
		l.log(ctx, slog.LevelInfo, "operation traced", attrs...)
	}
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs = append(attrs, slog.String("file", utils.FileWithLineNum()))
	l.Logger.LogAttrs(ctx, level, msg, attrs...)
}
