package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/quiltdb/quilt/utils"
)

// ZerologLogger implements Interface using zerolog
type ZerologLogger struct {
	Logger        zerolog.Logger
	LogLevel      LogLevel
	SlowThreshold time.Duration
}

// NewZerologLogger creates a new logger using zerolog
func NewZerologLogger(logger zerolog.Logger, config Config) Interface {
	return &ZerologLogger{
		Logger:        logger,
		LogLevel:      config.LogLevel,
		SlowThreshold: config.SlowThreshold,
	}
}

// NewZerologLoggerWithConfig creates a new zerolog logger with custom configuration
func NewZerologLoggerWithConfig(config Config, output ...zerolog.Context) Interface {
	var logger zerolog.Logger

	if len(output) > 0 {
		logger = output[0].Logger()
	} else {
		// Default configuration
		consoleWriter := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stdout
			w.TimeFormat = time.RFC3339
		})
		logger = zerolog.New(consoleWriter).
			Level(ZerologLevel(config.LogLevel)).
			With().
			Timestamp().
			Logger()
	}

	return NewZerologLogger(logger, config)
}

// ZerologLevel converts LogLevel to zerolog.Level
func ZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case Silent:
		return zerolog.Disabled
	case Error:
		return zerolog.ErrorLevel
	case Warn:
		return zerolog.WarnLevel
	case Info:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

// LogMode sets the log level
func (l *ZerologLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages
func (l *ZerologLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		logger := l.Logger.Info().
			Str("file", utils.FileWithLineNum()).
			Interface("data", data)

		if ctx != nil {
			logger = logger.Ctx(ctx)
		}

		logger.Msg(msg)
	}
}

// Warn logs warning messages
func (l *ZerologLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		logger := l.Logger.Warn().
			Str("file", utils.FileWithLineNum()).
			Interface("data", data)

		if ctx != nil {
			logger = logger.Ctx(ctx)
		}

		logger.Msg(msg)
	}
}

// Error logs error messages
func (l *ZerologLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		logger := l.Logger.Error().
			Str("file", utils.FileWithLineNum()).
			Interface("data", data)

		if ctx != nil {
			logger = logger.Ctx(ctx)
		}

		logger.Msg(msg)
	}
}

// Trace logs resolution and dispatch details
func (l *ZerologLogger) Trace(ctx context.Context, begin time.Time, fc func() (op string, touched int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	op, touched := fc()

	var event *zerolog.Event

	switch {
	case err != nil:
		event = l.Logger.Error().Err(err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		event = l.Logger.Warn().
			Str("slow_threshold", l.SlowThreshold.String())
	case l.LogLevel >= Info:
		event = l.Logger.Info()
	default:
		return
	}

	event = event.
		Str("file", utils.FileWithLineNum()).
		Str("duration", fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6)).
		Str("op", op)

	if touched != -1 {
		event = event.Int64("touched", touched)
	}

	if ctx != nil {
		event = event.Ctx(ctx)
	}

	event.Msg("operation traced")
}
