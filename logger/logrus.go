package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quiltdb/quilt/utils"
)

// LogrusLogger implements Interface using logrus
type LogrusLogger struct {
	Logger        *logrus.Logger
	LogLevel      LogLevel
	SlowThreshold time.Duration
}

// NewLogrusLogger creates a new logger using logrus
func NewLogrusLogger(logger *logrus.Logger, config Config) Interface {
	return &LogrusLogger{
		Logger:        logger,
		LogLevel:      config.LogLevel,
		SlowThreshold: config.SlowThreshold,
	}
}

// LogrusLevel converts LogLevel to logrus.Level
func LogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case Silent:
		return logrus.PanicLevel
	case Error:
		return logrus.ErrorLevel
	case Warn:
		return logrus.WarnLevel
	case Info:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

// LogMode sets the log level
func (l *LogrusLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages
func (l *LogrusLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		fields := logrus.Fields{
			"file": utils.FileWithLineNum(),
			"data": data,
		}
		l.Logger.WithContext(ctx).WithFields(fields).Info(msg)
	}
}

// Warn logs warning messages
func (l *LogrusLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		fields := logrus.Fields{
			"file": utils.FileWithLineNum(),
			"data": data,
		}
		l.Logger.WithContext(ctx).WithFields(fields).Warn(msg)
	}
}

// Error logs error messages
func (l *LogrusLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		fields := logrus.Fields{
			"file": utils.FileWithLineNum(),
			"data": data,
		}
		l.Logger.WithContext(ctx).WithFields(fields).Error(msg)
	}
}

// Trace logs resolution and dispatch details
func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (op string, touched int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	op, touched := fc()

	fields := logrus.Fields{
		"file":     utils.FileWithLineNum(),
		"duration": fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6),
		"op":       op,
	}
	if touched != -1 {
		fields["touched"] = touched
	}

	entry := l.Logger.WithContext(ctx).WithFields(fields)

	switch {
	case err != nil:
		entry.WithError(err).Error("operation failed")
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		entry.WithField("slow_threshold", l.SlowThreshold.String()).Warn("slow operation")
	case l.LogLevel >= Info:
		entry.Info("operation traced")
	}
}
