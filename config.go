package quilt

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/logger"
	"github.com/quiltdb/quilt/schema"
)

// Config configures a Database.
type Config struct {
	// Store provides per-table lookups; required.
	Store Store
	// Logger defaults from the environment, then logger.Default.
	Logger logger.Interface
	// NamingStrategy fills in table, foreign-key and join-table names the
	// schema leaves out.
	NamingStrategy schema.Namer
	// Transport is the optional cross-process channel the bus forwards to.
	Transport bus.Transport
	// NowFunc is the time source for maintained timestamps.
	NowFunc func() time.Time
}

type envOverrides struct {
	LogLevel      string        `env:"QUILT_LOG_LEVEL"`
	SlowThreshold time.Duration `env:"QUILT_SLOW_THRESHOLD" envDefault:"200ms"`
	TablePrefix   string        `env:"QUILT_TABLE_PREFIX"`
	SingularTable bool          `env:"QUILT_SINGULAR_TABLE"`
}

func (c *Config) applyDefaults() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment config: %w", err)
	}

	if c.Logger == nil {
		c.Logger = logger.New(defaultLogWriter(), logger.Config{
			SlowThreshold: overrides.SlowThreshold,
			LogLevel:      parseLogLevel(overrides.LogLevel),
		})
	}
	if c.NamingStrategy == nil {
		c.NamingStrategy = schema.NamingStrategy{
			TablePrefix:   overrides.TablePrefix,
			SingularTable: overrides.SingularTable,
		}
	}
	if c.NowFunc == nil {
		c.NowFunc = time.Now
	}
	if c.Store == nil {
		return fmt.Errorf("config requires a store")
	}
	return nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	case "warn", "":
		return logger.Warn
	default:
		return logger.Warn
	}
}
