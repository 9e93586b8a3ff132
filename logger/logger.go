// Package logger provides the leveled logging interface used across quilt,
// with backends for the standard library log package, slog, zerolog, logrus
// and zap.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/quiltdb/quilt/utils"
)

// LogLevel log level
type LogLevel int

const (
	// Silent silent log level
	Silent LogLevel = iota + 1
	// Error error log level
	Error
	// Warn warn log level
	Warn
	// Info info log level
	Info
)

// Writer log writer interface
type Writer interface {
	Printf(string, ...interface{})
}

// Config logger config
type Config struct {
	SlowThreshold time.Duration
	Colorful      bool
	LogLevel      LogLevel
}

// Interface logger interface
type Interface interface {
	LogMode(LogLevel) Interface
	Info(ctx context.Context, msg string, data ...interface{})
	Warn(ctx context.Context, msg string, data ...interface{})
	Error(ctx context.Context, msg string, data ...interface{})
	// Trace records one resolution or dispatch operation: fc reports the
	// operation name and how many listeners/records it touched.
	Trace(ctx context.Context, begin time.Time, fc func() (op string, touched int64), err error)
}

var (
	// Discard logger will print any log to io.Discard
	Discard = New(log.New(os.Stdout, "", log.LstdFlags), Config{LogLevel: Silent})
	// Default logger
	Default = New(log.New(os.Stdout, "\r\n", log.LstdFlags), Config{
		SlowThreshold: 200 * time.Millisecond,
		LogLevel:      Warn,
	})
)

// New initialize logger
func New(writer Writer, config Config) Interface {
	return &logger{
		Writer: writer,
		Config: config,
	}
}

type logger struct {
	Writer
	Config
}

// LogMode log mode
func (l *logger) LogMode(level LogLevel) Interface {
	newlogger := *l
	newlogger.LogLevel = level
	return &newlogger
}

// Info print info
func (l *logger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.Printf("[info] "+msg+" %s", append(data, utils.FileWithLineNum())...)
	}
}

// Warn print warn messages
func (l *logger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.Printf("[warn] "+msg+" %s", append(data, utils.FileWithLineNum())...)
	}
}

// Error print error messages
func (l *logger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.Printf("[error] "+msg+" %s", append(data, utils.FileWithLineNum())...)
	}
}

// Trace print operation timing
func (l *logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.LogLevel >= Error:
		op, touched := fc()
		l.Printf("%s [%.3fms] [touched:%d] %s error=%v", utils.FileWithLineNum(), float64(elapsed.Nanoseconds())/1e6, touched, op, err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		op, touched := fc()
		slowLog := fmt.Sprintf("SLOW OP >= %v", l.SlowThreshold)
		l.Printf("%s %s [%.3fms] [touched:%d] %s", utils.FileWithLineNum(), slowLog, float64(elapsed.Nanoseconds())/1e6, touched, op)
	case l.LogLevel == Info:
		op, touched := fc()
		l.Printf("%s [%.3fms] [touched:%d] %s", utils.FileWithLineNum(), float64(elapsed.Nanoseconds())/1e6, touched, op)
	}
}
